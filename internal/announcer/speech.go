package announcer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// Player renders text as audio and blocks until playback ends or ctx is
// cancelled.
type Player interface {
	Play(ctx context.Context, text string, voice Voice) error
}

// NopPlayer is used when no audio output is available.
type NopPlayer struct{}

func (NopPlayer) Play(ctx context.Context, text string, voice Voice) error {
	log.Debugf("announcer: (silent) %s", text)
	return nil
}

// PiperPlayer synthesises with piper and plays the raw PCM through sox.
type PiperPlayer struct {
	PiperPath   string
	SoxPath     string
	LengthScale float64
}

func (p *PiperPlayer) Play(ctx context.Context, text string, voice Voice) error {
	if voice.Path == "" {
		return errors.New("piper: no voice model")
	}

	scale := p.LengthScale
	if scale <= 0 {
		scale = 1
	}

	piperCmd := exec.CommandContext(ctx, p.PiperPath, "--model", voice.Path, "--output-raw",
		"--length_scale", strconv.FormatFloat(scale, 'f', 2, 64))
	stdin, err := piperCmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("error obtaining piper stdin pipe: %w", err)
	}
	stdout, err := piperCmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("error obtaining piper stdout pipe: %w", err)
	}
	if err := piperCmd.Start(); err != nil {
		return fmt.Errorf("error starting piper: %w", err)
	}

	// Must close stdin to signal EOF to piper
	go func(s io.WriteCloser, t string) {
		defer s.Close()
		if _, err := io.WriteString(s, t); err != nil {
			log.Warnf("error writing to piper stdin: %v", err)
		}
	}(stdin, text)

	args := []string{
		"-q", "-t", "raw", "-r", strconv.Itoa(voice.SampleRate), "-e", "signed-integer", "-b", "16", "-c", "1", "-",
	}
	if runtime.GOOS == "windows" {
		args = append(args, "-d")
	}
	// short lead in so the first syllable is not clipped
	args = append(args, "pad", "0.2", "0.1")

	playCmd := exec.CommandContext(ctx, p.SoxPath, args...)
	playCmd.Stdin = stdout

	if err := playCmd.Start(); err != nil {
		piperCmd.Process.Kill()
		piperCmd.Wait()
		return fmt.Errorf("error starting sox: %w", err)
	}

	// sox drains piper's stdout, so it has to finish before piper is reaped
	soxErr := playCmd.Wait()
	if soxErr != nil {
		piperCmd.Process.Kill()
	}
	piperErr := piperCmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if soxErr != nil {
		return fmt.Errorf("error waiting for sox to finish: %w", soxErr)
	}
	if piperErr != nil {
		return fmt.Errorf("error waiting for piper to finish: %w", piperErr)
	}
	return nil
}
