package code

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/shlex"

	"github.com/gsarma/examrunner/internal/job"
)

// ScriptPlaceholder in the command template is replaced by the script path.
const ScriptPlaceholder = "{script}"

type InterpreterConfig struct {
	// Command is split like a shell would, e.g. "scilab-cli -nb -f {script}".
	// Without a placeholder the script path is appended.
	Command     string
	ScriptName  string
	InputName   string
	WorkDir     string
	Timeout     time.Duration
	OutputLimit int
	ImageExts   []string
}

// Interpreter runs submissions with a local external interpreter, one scratch
// directory per job.
type Interpreter struct {
	argv        []string
	scriptName  string
	inputName   string
	workDir     string
	timeout     time.Duration
	outputLimit int
	imageExts   mapset.Set[string]
}

func NewInterpreter(cfg InterpreterConfig) (*Interpreter, error) {
	argv, err := shlex.Split(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse interpreter command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("interpreter command is empty")
	}
	p := &Interpreter{
		argv:        argv,
		scriptName:  cfg.ScriptName,
		inputName:   cfg.InputName,
		workDir:     cfg.WorkDir,
		timeout:     cfg.Timeout,
		outputLimit: cfg.OutputLimit,
		imageExts:   mapset.NewSet[string](),
	}
	if p.scriptName == "" {
		p.scriptName = "script.sci"
	}
	if p.inputName == "" {
		p.inputName = "input.txt"
	}
	if p.workDir == "" {
		p.workDir = filepath.Join(os.TempDir(), "examrunner")
	}
	if p.timeout <= 0 {
		p.timeout = 30 * time.Second
	}
	if p.outputLimit <= 0 {
		p.outputLimit = 64 << 10
	}
	for _, ext := range cfg.ImageExts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		p.imageExts.Add(ext)
	}
	return p, nil
}

func (p *Interpreter) command(scriptPath string) []string {
	out := make([]string, 0, len(p.argv)+1)
	replaced := false
	for _, a := range p.argv {
		if strings.Contains(a, ScriptPlaceholder) {
			a = strings.ReplaceAll(a, ScriptPlaceholder, scriptPath)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, scriptPath)
	}
	return out
}

// Execute materialises the task into WorkDir/<job id>, runs the interpreter
// under the configured timeout and always removes the directory afterwards.
func (p *Interpreter) Execute(ctx context.Context, t Task) (*Outcome, error) {
	if t.JobID == "" || strings.ContainsAny(t.JobID, `/\`) || t.JobID == "." || t.JobID == ".." {
		return nil, fmt.Errorf("invalid job id %q", t.JobID)
	}
	dir := filepath.Join(p.workDir, t.JobID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	scriptPath := filepath.Join(dir, p.scriptName)
	if err := os.WriteFile(scriptPath, []byte(t.Code), 0o600); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	var stdin *os.File
	if t.Input != "" {
		inputPath := filepath.Join(dir, p.inputName)
		if err := os.WriteFile(inputPath, []byte(t.Input), 0o600); err != nil {
			return nil, fmt.Errorf("write input: %w", err)
		}
		f, err := os.Open(inputPath)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		stdin = f
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	argv := p.command(scriptPath)
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if stdin != nil {
		cmd.Stdin = stdin
	}
	out := &limitedBuffer{limit: p.outputLimit}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 2 * time.Second
	setProcessGroup(cmd)

	err := cmd.Run()
	if cmd.Process != nil {
		killProcessGroup(cmd)
	}
	// A clean exit whose background children kept the output pipe open.
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		err = nil
	}
	outcome := p.classify(runCtx, argv[0], out, err)
	if img, imgErr := p.collectImage(dir); imgErr == nil {
		outcome.Image = img
	}
	return outcome, nil
}

func (p *Interpreter) classify(ctx context.Context, bin string, out *limitedBuffer, err error) *Outcome {
	text := out.String()
	switch {
	case err == nil:
		return &Outcome{Status: job.StatusCompleted, Output: text}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Outcome{Status: job.StatusFailed, Output: text + timedOutNote}
	case errors.Is(err, exec.ErrNotFound), isMissingBinary(err):
		return &Outcome{Status: job.StatusFailed, Output: fmt.Sprintf(interpreterGone, bin)}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Outcome{Status: job.StatusFailed, Output: text + fmt.Sprintf(exitedWithStatus, exitErr.ExitCode())}
	}
	if ctx.Err() != nil {
		return &Outcome{Status: job.StatusFailed, Output: text + "\nExecution cancelled."}
	}
	return &Outcome{Status: job.StatusFailed, Output: fmt.Sprintf(startFailed, err)}
}

// isMissingBinary matches start failures for an explicit path that does not exist.
func isMissingBinary(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr) && errors.Is(err, fs.ErrNotExist)
}

// collectImage returns the first generated image in dir, by name.
func (p *Interpreter) collectImage(dir string) ([]byte, error) {
	if p.imageExts.Cardinality() == 0 {
		return nil, fs.ErrNotExist
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].Name() < entries[k].Name() })
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if p.imageExts.Contains(strings.ToLower(filepath.Ext(e.Name()))) {
			return os.ReadFile(filepath.Join(dir, e.Name()))
		}
	}
	return nil, fs.ErrNotExist
}

// limitedBuffer keeps the first limit bytes written and silently drops the
// rest so a chatty program never blocks on a full pipe. exec.Cmd serialises
// writes when Stdout and Stderr are the same writer.
type limitedBuffer struct {
	buf       strings.Builder
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + truncatedNote
	}
	return b.buf.String()
}
