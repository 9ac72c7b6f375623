// Launcher spawns one profiler worker process per configured slot of each
// self-hosted SGLang instance, pinning every process to its backend via
// environment variables.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/buscafornecedor/profiler/pkg/config"
)

// defaultStagger spaces worker starts so a fleet does not hit the database
// and the backend in one burst.
const defaultStagger = 350 * time.Millisecond

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ensureV1 normalizes a backend URL to the OpenAI-compatible /v1 root.
func ensureV1(u string) string {
	trimmed := strings.TrimRight(u, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}

// distributeCap fits the requested per-instance worker counts under maxTotal,
// proportionally, keeping at least one worker per instance when it fits.
func distributeCap(requested []int, maxTotal int) []int {
	n := len(requested)
	out := make([]int, n)
	totalRequested := 0
	for _, w := range requested {
		totalRequested += w
	}
	if totalRequested <= 0 || maxTotal <= 0 {
		return out
	}
	if maxTotal >= totalRequested {
		copy(out, requested)
		return out
	}

	ratio := float64(maxTotal) / float64(totalRequested)
	assigned := 0
	for i, w := range requested {
		out[i] = int(float64(w) * ratio)
		if out[i] < 1 {
			out[i] = 1
		}
		assigned += out[i]
	}

	// Hand leftover slots to the largest requesters first.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return requested[order[a]] > requested[order[b]]
	})
	for remainder := maxTotal - assigned; remainder > 0; {
		progressed := false
		for _, i := range order {
			if remainder <= 0 {
				break
			}
			if out[i] < requested[i] {
				out[i]++
				remainder--
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	// The per-instance floor of 1 can overshoot the cap; shave the largest
	// allocations back down without going below 1.
	for {
		total := 0
		for _, w := range out {
			total += w
		}
		if total <= maxTotal {
			break
		}
		largest := 0
		for i := range out {
			if out[i] > out[largest] {
				largest = i
			}
		}
		if out[largest] <= 1 {
			break
		}
		out[largest]--
	}
	return out
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	workerBin := flag.String("worker-bin",
		getEnv("PROFILER_BIN", "profiler"),
		"Path to the profiler worker binary")
	flag.Parse()

	if err := godotenv.Load(*configDir + "/.env"); err == nil {
		slog.Info("Loaded environment", "path", *configDir+"/.env")
	}

	targets, err := config.LoadSGLangTargets(*configDir)
	if err != nil {
		slog.Error("Failed to load sglang targets", "error", err)
		os.Exit(1)
	}

	requested := make([]int, len(targets.Instances))
	for i, inst := range targets.Instances {
		requested[i] = inst.Workers
	}

	workersPer := requested
	maxTotal, _ := strconv.Atoi(os.Getenv("MAX_TOTAL_PROFILE_WORKERS"))
	if maxTotal > 0 && targets.TotalWorkers() > maxTotal {
		workersPer = distributeCap(requested, maxTotal)
		capped := 0
		for _, w := range workersPer {
			capped += w
		}
		slog.Info("Capping worker fleet",
			"max_total", maxTotal,
			"requested", targets.TotalWorkers(),
			"capped", capped)
	}

	stagger := defaultStagger
	if v := os.Getenv("STAGGER_PROFILE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			stagger = time.Duration(ms) * time.Millisecond
		}
	}

	var procs []*exec.Cmd
	total := 0
	for idx, inst := range targets.Instances {
		workers := workersPer[idx]
		if workers <= 0 {
			continue
		}
		baseURL := ensureV1(inst.BaseURL)
		env := append(os.Environ(),
			"SGLANG_BASE_URL="+baseURL,
			"SGLANG_INSTANCE_NAME="+inst.Name,
			"SGLANG_WORKERS_GROUP="+strconv.Itoa(workers),
		)
		for i := 0; i < workers; i++ {
			cmd := exec.Command(*workerBin, "-config-dir", *configDir)
			cmd.Env = env
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			if err := cmd.Start(); err != nil {
				slog.Error("Failed to start worker",
					"instance", inst.Name, "error", err)
				continue
			}
			procs = append(procs, cmd)
			total++
			if i < workers-1 && stagger > 0 {
				time.Sleep(stagger)
			}
		}
		slog.Info("Instance workers started",
			"instance", inst.Name, "workers", workers, "base_url", baseURL)
	}

	if total == 0 {
		slog.Error("No workers started")
		os.Exit(1)
	}
	slog.Info("Worker fleet running", "total", total)

	// Forward termination signals to every child, then wait for them.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("Forwarding signal to workers", "signal", sig)
		for _, p := range procs {
			if p.Process != nil {
				_ = p.Process.Signal(sig)
			}
		}
	}()

	for _, p := range procs {
		if err := p.Wait(); err != nil {
			slog.Warn("Worker exited with error", "pid", p.Process.Pid, "error", err)
		}
	}
	slog.Info("All workers exited")
}
