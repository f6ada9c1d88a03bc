package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/minnowchess/minnow/internal"
)

// quitTimeout bounds how long Close waits for the engine to exit after
// "quit" before killing it.
const quitTimeout = 3 * time.Second

// Engine owns a single UCI engine subprocess. It is not safe for concurrent
// use; the Pool gives each worker its own Engine.
type Engine struct {
	name    string
	cmd     *exec.Cmd
	in      io.Writer
	closer  io.Closer
	scanner *bufio.Scanner
	logger  *zap.Logger

	lastBatch   internal.BatchID
	lastVariant string
	lastSkill   int
}

// StartEngine launches the engine binary, performs the UCI handshake, and
// applies the configured options. The process is killed when ctx is
// cancelled.
func StartEngine(ctx context.Context, config internal.EngineConfig, logger *zap.Logger) (*Engine, error) {
	binary, err := exec.LookPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("engine binary %q not found: %w\nInstall the engine or set engine.path in the configuration", config.Path, err)
	}

	cmd := exec.CommandContext(ctx, binary)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start engine %q: %w\nCheck that the binary is executable", binary, err)
	}

	e := newEngine(stdin, stdout, logger)
	e.cmd = cmd
	e.closer = stdin

	if err := e.handshake(config); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	return e, nil
}

func newEngine(in io.Writer, out io.Reader, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		in:        in,
		scanner:   bufio.NewScanner(out),
		logger:    logger,
		lastSkill: 20,
	}
}

// Name returns the engine's self-reported name from the UCI handshake.
func (e *Engine) Name() string {
	return e.name
}

func (e *Engine) send(line string) error {
	e.logger.Debug("engine <-", zap.String("line", line))
	if _, err := io.WriteString(e.in, line+"\n"); err != nil {
		return fmt.Errorf("failed to write to engine: %w\nThe engine process may have died", err)
	}
	return nil
}

func (e *Engine) readLine() (string, error) {
	if !e.scanner.Scan() {
		if err := e.scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read from engine: %w", err)
		}
		return "", fmt.Errorf("engine closed its output unexpectedly\nThe engine process may have crashed")
	}
	line := strings.TrimSpace(e.scanner.Text())
	e.logger.Debug("engine ->", zap.String("line", line))
	return line, nil
}

func (e *Engine) handshake(config internal.EngineConfig) error {
	if err := e.send("uci"); err != nil {
		return err
	}

	for {
		line, err := e.readLine()
		if err != nil {
			return err
		}
		if after, ok := strings.CutPrefix(line, "id name "); ok {
			e.name = after
		}
		if line == "uciok" {
			break
		}
	}

	if config.Hash > 0 {
		if err := e.setOption("Hash", fmt.Sprint(config.Hash)); err != nil {
			return err
		}
	}
	if config.Threads > 0 {
		if err := e.setOption("Threads", fmt.Sprint(config.Threads)); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(config.Options))
	for name := range config.Options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := e.setOption(name, config.Options[name]); err != nil {
			return err
		}
	}

	return e.sync()
}

func (e *Engine) setOption(name, value string) error {
	return e.send(fmt.Sprintf("setoption name %s value %s", name, value))
}

// sync blocks until the engine has processed all previous commands.
func (e *Engine) sync() error {
	if err := e.send("isready"); err != nil {
		return err
	}
	for {
		line, err := e.readLine()
		if err != nil {
			return err
		}
		if line == "readyok" {
			return nil
		}
	}
}

// Analyse runs the engine against a single position and returns its result.
// An error means the engine is no longer usable and must be replaced.
func (e *Engine) Analyse(ctx context.Context, pos internal.Position) (internal.PositionResponse, error) {
	if err := ctx.Err(); err != nil {
		return internal.PositionResponse{}, err
	}

	if err := e.prepare(pos); err != nil {
		return internal.PositionResponse{}, err
	}

	cmd := "position startpos"
	if pos.FEN != "" {
		cmd = "position fen " + pos.FEN
	}
	if len(pos.Moves) > 0 {
		cmd += " moves " + strings.Join(pos.Moves, " ")
	}
	if err := e.send(cmd); err != nil {
		return internal.PositionResponse{}, err
	}

	var goCmd string
	if pos.Work.Type == internal.WorkMove {
		strength := StrengthForLevel(pos.Work.Level)
		goCmd = fmt.Sprintf("go depth %d movetime %d", strength.Depth, strength.MoveTimeMS)
	} else {
		goCmd = fmt.Sprintf("go nodes %d", pos.Nodes)
	}

	started := time.Now()
	if err := e.send(goCmd); err != nil {
		return internal.PositionResponse{}, err
	}

	var best Info
	for {
		line, err := e.readLine()
		if err != nil {
			return internal.PositionResponse{}, err
		}

		if info, ok := parseInfo(line); ok {
			// Only the primary variation matters for reporting.
			if info.MultiPV <= 1 {
				best = info
			}
			continue
		}

		if bestMove, ok := parseBestMove(line); ok {
			return e.response(pos, best, bestMove, time.Since(started)), nil
		}
	}
}

// prepare issues the per-batch setup: new game boundaries, variant options,
// and skill settings for play-move work.
func (e *Engine) prepare(pos internal.Position) error {
	if pos.Work.ID != e.lastBatch {
		if err := e.send("ucinewgame"); err != nil {
			return err
		}
		e.lastBatch = pos.Work.ID

		variant := pos.Variant
		if variant == "" {
			variant = "standard"
		}
		if variant != e.lastVariant {
			if err := e.setOption("UCI_Variant", variant); err != nil {
				return err
			}
			if err := e.setOption("UCI_Chess960", fmt.Sprint(variant == "chess960")); err != nil {
				return err
			}
			e.lastVariant = variant
		}

		skill := 20
		if pos.Work.Type == internal.WorkMove {
			skill = StrengthForLevel(pos.Work.Level).Skill
		}
		if skill != e.lastSkill {
			if err := e.setOption("Skill Level", fmt.Sprint(skill)); err != nil {
				return err
			}
			e.lastSkill = skill
		}

		return e.sync()
	}

	return nil
}

func (e *Engine) response(pos internal.Position, best Info, bestMove string, elapsed time.Duration) internal.PositionResponse {
	nodes := best.Nodes
	nps := best.NPS
	if nps == 0 && elapsed > 0 {
		nps = uint32(float64(nodes) / elapsed.Seconds())
	}

	duration := elapsed
	if best.TimeMS > 0 {
		duration = time.Duration(best.TimeMS) * time.Millisecond
	}

	return internal.PositionResponse{
		Work:     pos.Work,
		ID:       pos.ID,
		BatchURL: pos.BatchURL,
		BestMove: bestMove,
		PV:       best.PV,
		Depth:    best.Depth,
		Score:    best.Score,
		Time:     duration,
		Nodes:    nodes,
		NPS:      nps,
	}
}

// Close asks the engine to quit and kills it if it does not exit promptly.
func (e *Engine) Close() error {
	_ = e.send("quit")
	if e.closer != nil {
		_ = e.closer.Close()
	}

	if e.cmd == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- e.cmd.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(quitTimeout):
		_ = e.cmd.Process.Kill()
		<-done
		return fmt.Errorf("engine %q did not exit after quit; killed", e.name)
	}
}
