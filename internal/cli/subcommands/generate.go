package subcommands

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"OpenSampler/internal/runtime"
	"OpenSampler/internal/sampling"
)

const generateLongDesc string = `Run a generation loop: the configured engine produces logits, the sampler
chain picks a token and the token is fed back, until EOS, --max-tokens or
Ctrl-C.

Examples:
  opensampler generate --prompt 1,5,9 --max-tokens 32
  APP_ENGINE_BACKEND=http opensampler generate --prompt 1 --stream`

const generateShortDesc string = "Generate tokens from the configured engine"

type generateCommander struct {
	env       *Env
	prompt    []int
	maxTokens int
	stream    bool
}

func NewGenerateCmd(env *Env) *cobra.Command {
	cmder := &generateCommander{env: env}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: generateShortDesc,
		Long:  generateLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().IntSliceVarP(&cmder.prompt, "prompt", "p", nil, "Prompt token ids")
	cmd.Flags().IntVarP(&cmder.maxTokens, "max-tokens", "m", 0, "Maximum tokens to generate (0 uses config)")
	cmd.Flags().BoolVar(&cmder.stream, "stream", false, "Print tokens as they are sampled")

	return cmd
}

func (c *generateCommander) run(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := runtime.NewManager(c.env.Config, c.env.Registry, c.env.logger())
	if err != nil {
		return err
	}
	defer mgr.Close()

	req := runtime.Request{MaxTokens: c.maxTokens}
	for _, id := range c.prompt {
		req.Prompt = append(req.Prompt, sampling.Token(id))
	}

	out := cmd.OutOrStdout()
	var (
		tokens []string
		stats  runtime.Stats
		finish string
	)

	err = mgr.Stream(ctx, req, func(ev runtime.StreamEvent) error {
		if ev.Final {
			finish = ev.Finish
			if ev.Stats != nil {
				stats = *ev.Stats
			}
			return nil
		}
		tokens = append(tokens, strconv.Itoa(int(ev.Token)))
		if c.stream {
			fmt.Fprintf(out, "%d ", ev.Token)
		}
		return nil
	})

	if c.stream {
		fmt.Fprintln(out)
	} else {
		fmt.Fprintln(out, strings.Join(tokens, " "))
	}
	fmt.Fprintln(out, statsStyle.Render(fmt.Sprintf(
		"[%s] %d tokens in %v (%.1f tok/s, ttft %v, sample avg %v)",
		finish, stats.TokensGenerated, stats.Duration.Round(time.Microsecond), stats.GenerationTPS,
		stats.TTFT.Round(time.Microsecond), stats.Sampling.MeanSample())))

	return err
}
