package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/buscafornecedor/profiler/pkg/config"
)

func TestPollIntervalJitterBounds(t *testing.T) {
	cfg := &config.QueueConfig{
		PollInterval:       time.Second,
		PollIntervalJitter: 200 * time.Millisecond,
	}
	w := NewWorker("w-0", nil, cfg, nil)

	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.Less(t, d, 1200*time.Millisecond)
	}
}

func TestPollIntervalNoJitter(t *testing.T) {
	cfg := &config.QueueConfig{PollInterval: time.Second}
	w := NewWorker("w-0", nil, cfg, nil)
	assert.Equal(t, time.Second, w.pollInterval())
}

func TestJobPipelineJob(t *testing.T) {
	j := &Job{
		ID:        7,
		CNPJ:      "12.345.678/0001-90",
		TradeName: "ACME",
		LegalName: "ACME LTDA",
		City:      "Joinville",
		SeedURL:   "https://acme.example",
	}
	p := j.PipelineJob()
	assert.Equal(t, "12.345.678/0001-90", p.CNPJ)
	assert.Equal(t, "ACME", p.TradeName)
	assert.Equal(t, "ACME LTDA", p.LegalName)
	assert.Equal(t, "Joinville", p.City)
	assert.Equal(t, "https://acme.example", p.SeedURL)
}

func TestWorkerHealthInitial(t *testing.T) {
	w := NewWorker("w-0", nil, &config.QueueConfig{}, nil)
	h := w.Health()
	assert.Equal(t, "w-0", h.ID)
	assert.Equal(t, string(WorkerStatusIdle), h.Status)
	assert.Zero(t, h.JobsProcessed)
}
