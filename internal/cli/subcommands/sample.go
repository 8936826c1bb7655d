package subcommands

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"OpenSampler/internal/runtime"
	"OpenSampler/internal/sampling"
)

const sampleLongDesc string = `Run the configured sampler chain once over a logit vector and show the
surviving candidates.

Logits come from positional arguments or from a JSON array file ("-" reads
stdin). "-inf" masks a token. Tokens passed with --history are accepted
before sampling, so penalties and mirostat see them.

Examples:
  opensampler sample 1 2 0.5 3 0.1
  opensampler sample --history 3,3 --top 3 1 2 0.5 3 0.1
  opensampler sample --file logits.json`

const sampleShortDesc string = "Sample one token from a logit vector"

type sampleCommander struct {
	env     *Env
	file    string
	history []int
	top     int
}

func NewSampleCmd(env *Env) *cobra.Command {
	cmder := &sampleCommander{env: env}

	cmd := &cobra.Command{
		Use:   "sample [logits...]",
		Short: sampleShortDesc,
		Long:  sampleLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.file, "file", "f", "", "JSON array of logits (- for stdin)")
	cmd.Flags().IntSliceVar(&cmder.history, "history", nil, "Token ids to accept before sampling")
	cmd.Flags().IntVarP(&cmder.top, "top", "n", 10, "Number of candidates to show")

	return cmd
}

func (c *sampleCommander) run(cmd *cobra.Command, args []string) error {
	logits, err := c.readLogits(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	cfg := c.env.Config.Sampling
	vocab := runtime.Vocab{
		Size:    len(logits),
		EOS:     inVocab(cfg.Vocab.EOS, len(logits)),
		Newline: inVocab(cfg.Vocab.Newline, len(logits)),
	}

	chain, err := runtime.NewChain(cfg, vocab, c.env.logger())
	if err != nil {
		return err
	}
	defer chain.Close()

	for _, id := range c.history {
		chain.Accept(sampling.Token(id))
	}

	d := sampling.FromLogits(logits)
	token, err := chain.Apply(d)
	if err != nil {
		return fmt.Errorf("sample: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("Chain: "+strings.Join(chain.Names(), " → ")))
	fmt.Fprintln(out, renderCandidates(d, token, c.top))
	fmt.Fprintln(out, statsStyle.Render(fmt.Sprintf("selected %d  (%d of %d candidates left, %s domain)",
		token, d.Len(), len(logits), d.Domain)))
	return nil
}

func (c *sampleCommander) readLogits(stdin io.Reader, args []string) ([]float32, error) {
	if c.file != "" {
		var (
			data []byte
			err  error
		)
		if c.file == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(c.file)
		}
		if err != nil {
			return nil, fmt.Errorf("read logits: %w", err)
		}
		var logits []float32
		if err := json.Unmarshal(data, &logits); err != nil {
			return nil, fmt.Errorf("parse logits: %w", err)
		}
		return logits, nil
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("sample requires logits as arguments or --file")
	}
	logits := make([]float32, len(args))
	for i, arg := range args {
		v, err := strconv.ParseFloat(arg, 32)
		if err != nil {
			return nil, fmt.Errorf("logit %d: %w", i, err)
		}
		logits[i] = float32(v)
	}
	return logits, nil
}

func renderCandidates(d *sampling.Distribution, selected sampling.Token, top int) string {
	ranked := slices.Clone(d.Tokens)
	slices.SortFunc(ranked, func(a, b sampling.TokenScore) int {
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if top > 0 && len(ranked) > top {
		ranked = ranked[:top]
	}

	valueHeader := "logit"
	if d.Domain == sampling.DomainProbability {
		valueHeader = "p"
	}

	rows := make([][]string, len(ranked))
	for i, t := range ranked {
		mark := ""
		if t.ID == selected {
			mark = "●"
		}
		rows[i] = []string{strconv.Itoa(i + 1), strconv.Itoa(int(t.ID)), strconv.FormatFloat(float64(t.Value), 'f', 4, 32), mark}
	}

	return newTable([]string{"#", "token", valueHeader, ""}, rows, func(row int) bool {
		return row >= 0 && row < len(ranked) && ranked[row].ID == selected
	}).String()
}

// inVocab returns id, or -1 when it is outside a vocabulary of size n.
func inVocab(id int32, n int) sampling.Token {
	if id < 0 || int(id) >= n {
		return -1
	}
	return sampling.Token(id)
}
