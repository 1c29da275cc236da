package simulator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// maxErrorOutput bounds the compiler output echoed back to clients
const maxErrorOutput = 500

// defaultBuildName is used when the config does not name the node
const defaultBuildName = "lvgl-simulator"

// Availability reports whether the simulator can run on this host
type Availability struct {
	Available        bool    `json:"available"`
	ESPHomeInstalled bool    `json:"esphome_installed"`
	ESPHomePath      string  `json:"esphome_path"`
	SDLInstalled     bool    `json:"sdl_installed"`
	Reason           *string `json:"reason"`
}

// CompileError carries the (truncated) compiler output of a failed build
type CompileError struct {
	Output  string
	Timeout time.Duration
}

func (e *CompileError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("compilation timed out after %s", e.Timeout)
	}
	return "compilation failed: " + e.Output
}

// Process is a launched simulator
type Process interface {
	Pid() int
	// Done is closed once the process has exited
	Done() <-chan struct{}
	// Terminate asks the process group to exit
	Terminate() error
	// Kill forcibly ends the process group
	Kill() error
}

// Toolchain builds and launches simulator configs
type Toolchain interface {
	Check(ctx context.Context) Availability
	Compile(ctx context.Context, yamlPath, workDir string) error
	Launch(yamlPath, workDir string) (Process, error)
}

// sdlLibraries are the well-known SDL2 install locations
var sdlLibraries = []string{
	"/opt/homebrew/lib/libSDL2.dylib",
	"/usr/local/lib/libSDL2.dylib",
	"/usr/lib/x86_64-linux-gnu/libSDL2.so",
	"/usr/lib/aarch64-linux-gnu/libSDL2.so",
	"/usr/lib/libSDL2.so",
}

// ESPHome drives the esphome CLI with the host platform
type ESPHome struct {
	path   string
	logger *zap.Logger
}

// NewESPHome creates a toolchain around the esphome executable at path
func NewESPHome(path string, logger *zap.Logger) *ESPHome {
	if path == "" {
		path = "esphome"
	}
	return &ESPHome{path: path, logger: logger}
}

func (e *ESPHome) lookPath() (string, bool) {
	p, err := exec.LookPath(e.path)
	if err != nil {
		return "", false
	}
	return p, true
}

// Check looks for the esphome CLI and the SDL2 library
func (e *ESPHome) Check(ctx context.Context) Availability {
	path, installed := e.lookPath()
	sdl := sdlInstalled(ctx)

	var reasons []string
	if !installed {
		reasons = append(reasons, "ESPHome CLI not found. Install with: pip install esphome")
	}
	if !sdl {
		reasons = append(reasons, "SDL2 not found. Install with: brew install sdl2 (macOS) or apt install libsdl2-dev (Linux)")
	}

	a := Availability{
		Available:        installed && sdl,
		ESPHomeInstalled: installed,
		ESPHomePath:      path,
		SDLInstalled:     sdl,
	}
	if len(reasons) > 0 {
		reason := strings.Join(reasons, "; ")
		a.Reason = &reason
	}
	return a
}

func sdlInstalled(ctx context.Context) bool {
	for _, lib := range sdlLibraries {
		if _, err := os.Stat(lib); err == nil {
			return true
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "pkg-config", "--exists", "sdl2").Run() == nil
}

// Compile runs `esphome compile` in workDir. It returns the context's error
// when the build was cut short by cancellation or a deadline.
func (e *ESPHome) Compile(ctx context.Context, yamlPath, workDir string) error {
	path, ok := e.lookPath()
	if !ok {
		return ErrESPHomeMissing
	}

	cmd := exec.CommandContext(ctx, path, "compile", yamlPath)
	cmd.Dir = workDir
	configureCommandProcess(cmd)
	cmd.Cancel = func() error {
		terminateCommandProcess(cmd)
		return nil
	}

	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	out := strings.TrimSpace(string(output))
	if out == "" {
		out = err.Error()
	}
	if len(out) > maxErrorOutput {
		out = out[len(out)-maxErrorOutput:]
	}
	return &CompileError{Output: out}
}

// Launch starts the compiled binary, falling back to `esphome run` when the
// build output cannot be found.
func (e *ESPHome) Launch(yamlPath, workDir string) (Process, error) {
	logFile, err := os.Create(filepath.Join(workDir, "simulator.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create simulator log: %w", err)
	}
	defer logFile.Close()

	var cmd *exec.Cmd
	if bin, ok := findBinary(workDir, buildName(yamlPath)); ok {
		cmd = exec.Command(bin)
		cmd.Env = os.Environ()
		if runtime.GOOS == "darwin" {
			if _, err := os.Stat("/opt/homebrew/lib"); err == nil {
				cmd.Env = append(cmd.Env, "DYLD_LIBRARY_PATH=/opt/homebrew/lib:"+os.Getenv("DYLD_LIBRARY_PATH"))
			}
		}
	} else {
		path, ok := e.lookPath()
		if !ok {
			return nil, ErrESPHomeMissing
		}
		e.logger.Warn("Compiled simulator binary not found, falling back to esphome run",
			zap.String("work_dir", workDir))
		cmd = exec.Command(path, "run", yamlPath, "--no-logs")
	}
	cmd.Dir = workDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	return startCommand(cmd)
}

// buildName reads esphome.name from the config, which names the build directory
func buildName(yamlPath string) string {
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return defaultBuildName
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Content) == 0 {
		return defaultBuildName
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return defaultBuildName
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "esphome" || root.Content[i+1].Kind != yaml.MappingNode {
			continue
		}
		section := root.Content[i+1]
		for j := 0; j+1 < len(section.Content); j += 2 {
			name := section.Content[j+1]
			if section.Content[j].Value == "name" && name.Kind == yaml.ScalarNode &&
				name.Value != "" && !strings.Contains(name.Value, "${") {
				return name.Value
			}
		}
	}
	return defaultBuildName
}

// findBinary locates the host build output, including macOS app bundles.
// Any build directory holding a same-named executable is accepted when the
// expected name is not present.
func findBinary(workDir, name string) (string, bool) {
	buildRoot := filepath.Join(workDir, ".esphome", "build")

	candidates := []string{name}
	if entries, err := os.ReadDir(buildRoot); err == nil {
		for _, entry := range entries {
			if entry.IsDir() && entry.Name() != name {
				candidates = append(candidates, entry.Name())
			}
		}
	}

	for _, c := range candidates {
		dir := filepath.Join(buildRoot, c)
		for _, bin := range []string{
			filepath.Join(dir, c),
			filepath.Join(dir, c+".app", "Contents", "MacOS", c),
		} {
			if info, err := os.Stat(bin); err == nil && info.Mode().IsRegular() {
				return bin, true
			}
		}
	}
	return "", false
}

// commandProcess is a Process backed by os/exec
type commandProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func startCommand(cmd *exec.Cmd) (*commandProcess, error) {
	configureCommandProcess(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start simulator: %w", err)
	}
	p := &commandProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *commandProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *commandProcess) Done() <-chan struct{} {
	return p.done
}

func (p *commandProcess) Terminate() error {
	return signalCommandProcess(p.cmd)
}

func (p *commandProcess) Kill() error {
	terminateCommandProcess(p.cmd)
	return nil
}
