package supervisor

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hivematrix/helm/pkg/types"
)

// defaultInterpreter is the conventional virtualenv interpreter inside
// a managed python service checkout.
const defaultInterpreter = "pyenv/bin/python"

// serviceEnvOverlay is the per-service env file a checkout may commit
// alongside its code. It is loaded below the synthesized env so the
// orchestrator's values win.
const serviceEnvOverlay = ".flaskenv"

// stderrTailBytes bounds how much of a failed service's stderr log is
// folded into its error message.
const stderrTailBytes = 500

// buildArgv constructs the launch command for a service. Paths resolve
// inside the service directory; the script argument stays relative
// because the child runs with cwd = dir.
//
// A managed python entrypoint is either a single script (run through
// the checkout's virtualenv interpreter) or a full command line such as
// a preconfigured WSGI runner, in which case it is used verbatim.
// External services launch through their own start script.
func buildArgv(entry types.ServiceEntry, dir string) ([]string, error) {
	switch entry.ProcessKind {
	case types.ProcessKindExternalJava:
		script := filepath.Join(dir, entry.RunEntrypoint)
		if err := requireExecutable(script); err != nil {
			return nil, err
		}
		return []string{script}, nil

	case types.ProcessKindManagedPython:
		fields := strings.Fields(entry.RunEntrypoint)
		if len(fields) == 0 {
			return nil, fmt.Errorf("service %s has an empty run entrypoint", entry.Name)
		}
		if len(fields) > 1 {
			argv := append([]string{filepath.Join(dir, fields[0])}, fields[1:]...)
			if err := requireExecutable(argv[0]); err != nil {
				return nil, err
			}
			return argv, nil
		}
		interpreter := filepath.Join(dir, defaultInterpreter)
		if err := requireExecutable(interpreter); err != nil {
			return nil, fmt.Errorf("python interpreter for %s: %w", entry.Name, err)
		}
		if _, err := os.Stat(filepath.Join(dir, fields[0])); err != nil {
			return nil, fmt.Errorf("run script for %s: %w", entry.Name, err)
		}
		return []string{interpreter, fields[0]}, nil

	default:
		return nil, fmt.Errorf("service %s has unknown process kind %q", entry.Name, entry.ProcessKind)
	}
}

func requireExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

// modeEnv carries the run mode into the child. Production managed
// python services hand off to their WSGI runner based on these.
func modeEnv(entry types.ServiceEntry, mode types.RunMode) []string {
	env := []string{
		"FLASK_ENV=" + string(mode),
		"PORT=" + strconv.Itoa(entry.Port),
	}
	if mode == types.RunModeProduction && entry.ProcessKind == types.ProcessKindManagedPython {
		env = append(env, "USE_GUNICORN=true")
	}
	return env
}

// inheritedEnv is the minimal slice of the orchestrator's own
// environment passed down to children.
func inheritedEnv() []string {
	keep := []string{"PATH", "HOME", "LANG", "LC_ALL", "USER", "LOGNAME", "SHELL", "TMPDIR", "TZ"}
	env := make([]string, 0, len(keep))
	for _, key := range keep {
		if value, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+value)
		}
	}
	return env
}

// readEnvFile parses a KEY=VALUE env file. Blank lines and # comments
// are skipped; surrounding single or double quotes on values are
// stripped.
func readEnvFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pairs []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		pairs = append(pairs, strings.TrimSpace(key)+"="+unquote(strings.TrimSpace(value)))
	}
	return pairs, nil
}

func unquote(value string) string {
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// mergeEnv flattens env layers into a single slice. Later layers win
// per key; key order follows first appearance so output is stable.
func mergeEnv(layers ...[]string) []string {
	values := make(map[string]string)
	var order []string
	for _, layer := range layers {
		for _, pair := range layer {
			key, value, ok := strings.Cut(pair, "=")
			if !ok || key == "" {
				continue
			}
			if _, seen := values[key]; !seen {
				order = append(order, key)
			}
			values[key] = value
		}
	}
	env := make([]string, 0, len(order))
	for _, key := range order {
		env = append(env, key+"="+values[key])
	}
	return env
}

// openLogFile opens a per-service log for appending. Services may run
// across many starts; their logs accumulate and are never truncated
// here.
func openLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// tailFile returns up to limit bytes from the end of a file, trimmed.
// Used to fold a crashed service's stderr into its error message.
func tailFile(path string, limit int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	if size := info.Size(); size > limit {
		if _, err := f.Seek(size-limit, io.SeekStart); err != nil {
			return ""
		}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// writePIDFile records a service's PID via write-then-rename so a
// crash mid-write never leaves a torn file.
func writePIDFile(path string, pid int) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pid-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// readPIDFile returns the recorded PID, or 0 when the file is missing
// or unparseable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

func removePIDFile(path string) {
	_ = os.Remove(path)
}

// portOpen dials the service port on loopback to see whether something
// is accepting connections yet.
func portOpen(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 150*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
