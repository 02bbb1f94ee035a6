// Command controlbridge forwards 24-byte control records between a
// websocket pipe and stdin/stdout, or between two pipes.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bryanchriswhite/tfliteserver/internal/detection"
	"github.com/bryanchriswhite/tfliteserver/internal/logger"
	"github.com/bryanchriswhite/tfliteserver/internal/pipe"
	"github.com/spf13/cobra"
)

const stdio = "-"

var pretty bool

var rootCmd = &cobra.Command{
	Use:   "controlbridge FROM TO",
	Short: "Forward control records between pipes",
	Long: `controlbridge copies control records (vx, vy, vz, yaw, timestamp) from FROM
to TO unmodified. Each side is a websocket pipe URL such as
ws://localhost:8080/pipes/control_out, or "-" for stdin/stdout.`,
	Example: `  # Feed recorded control data into a running server
  controlbridge - ws://localhost:8080/pipes/control_out < control.bin

  # Relay control records between two hosts
  controlbridge ws://drone:8080/pipes/vio ws://localhost:8080/pipes/control_out`,
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().BoolVar(&pretty, "pretty", false, "human-readable console logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type source interface {
	Recv(ctx context.Context) ([]byte, error)
}

// recordReader yields one control record per Recv.
type recordReader struct {
	r *bufio.Reader
}

func (s recordReader) Recv(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, detection.ControlSize)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated control record: %w", err)
		}
		return nil, err
	}
	return buf, nil
}

type writerSink struct {
	w io.Writer
}

func (s writerSink) Write(msg []byte) error {
	_, err := s.w.Write(msg)
	return err
}

func run(cmd *cobra.Command, args []string) error {
	logger.Init(string(logger.InfoLevel), pretty)
	log := logger.WithComponent("controlbridge")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	from, to := args[0], args[1]
	if from == stdio && to == stdio {
		return errors.New("at least one side must be a pipe URL")
	}

	var src source
	if from == stdio {
		src = recordReader{r: bufio.NewReader(os.Stdin)}
	} else {
		if !isPipeURL(from) {
			return fmt.Errorf("invalid source %q", from)
		}
		remote, err := pipe.Dial(ctx, from, pipe.ModeSubscribe)
		if err != nil {
			return err
		}
		defer remote.Close()
		src = remote
	}

	var dst pipe.Writer
	if to == stdio {
		dst = writerSink{w: os.Stdout}
	} else {
		if !isPipeURL(to) {
			return fmt.Errorf("invalid destination %q", to)
		}
		remote, err := pipe.Dial(ctx, to, pipe.ModePublish)
		if err != nil {
			return err
		}
		defer remote.Close()
		dst = remote
	}

	n, err := forward(ctx, src, dst)
	log.Info().Int("records", n).Str("from", from).Str("to", to).Msg("Bridge finished")
	return err
}

func isPipeURL(s string) bool {
	return strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://")
}

// forward copies messages until src ends or ctx is done. It returns the
// number of whole records forwarded.
func forward(ctx context.Context, src source, dst pipe.Writer) (int, error) {
	bytes := 0
	for {
		msg, err := src.Recv(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, pipe.ErrClosed),
				errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return bytes / detection.ControlSize, nil
			}
			return bytes / detection.ControlSize, err
		}
		if err := dst.Write(msg); err != nil {
			return bytes / detection.ControlSize, fmt.Errorf("failed to forward control record: %w", err)
		}
		bytes += len(msg)
	}
}
