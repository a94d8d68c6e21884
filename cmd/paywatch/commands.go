package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/config"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/adapter"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/adapters/channel"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/adapters/paymentapi"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/i18n"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/logging"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/usecase"
)

const dateLayout = "2006-01-02"

type rootOptions struct {
	configPath string
	baseURL    string
	token      string
	dev        bool
	jsonOut    bool
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "paywatch",
		Short:         "Inspect and await payment confirmations",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f := root.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "", "path to the service YAML config")
	f.StringVar(&opts.baseURL, "base-url", "", "payment status API base URL (overrides config)")
	f.StringVar(&opts.token, "token", "", "payment status API bearer token (overrides config)")
	f.BoolVar(&opts.dev, "dev", false, "developer mode")
	f.BoolVarP(&opts.jsonOut, "json", "j", false, "print JSON")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level on stderr")

	root.AddCommand(awaitCmd(opts))
	root.AddCommand(statusCmd(opts))
	root.AddCommand(nextDateCmd(opts))
	return root
}

// load reads the config file when given; otherwise the flags and the
// environment must provide the status API location.
func (o *rootOptions) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadConfig(o.configPath, o.dev)
	} else {
		raw := ""
		if o.baseURL != "" {
			raw = fmt.Sprintf("payment_api:\n  base_url: %q\n", o.baseURL)
		}
		cfg, err = config.Parse([]byte(raw))
	}
	if err != nil {
		return nil, err
	}
	if o.baseURL != "" {
		cfg.PaymentAPI.BaseURL = o.baseURL
	}
	if o.token != "" {
		cfg.PaymentAPI.Token = o.token
	}
	return cfg, nil
}

func (o *rootOptions) logger(errOut io.Writer) *zerolog.Logger {
	return logging.NewWithWriter(errOut, config.LogConfig{Level: o.logLevel, Format: "console"}, o.dev)
}

func awaitCmd(opts *rootOptions) *cobra.Command {
	var (
		hint        string
		interval    time.Duration
		maxAttempts int
		lang        string
	)
	cmd := &cobra.Command{
		Use:   "await <paymentId>",
		Short: "Poll (and listen for) a payment until it resolves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log := opts.logger(cmd.ErrOrStderr())
			statusAPI := paymentapi.NewClient(cfg.PaymentAPI.BaseURL, cfg.PaymentAPI.Token, cfg.PaymentAPI.Timeout)

			var ch adapter.PaymentEventChannel = channel.NewNoop()
			if cfg.Channel.URL != "" {
				hub := channel.NewHub(channel.Options{
					URL:   cfg.Channel.URL,
					Token: cfg.PaymentAPI.Token,
					Namespaces: map[model.SubjectKind]string{
						model.SubjectSubscription: cfg.Channel.Namespaces.Subscription,
						model.SubjectOrder:        cfg.Channel.Namespaces.Order,
					},
					PingInterval: cfg.Channel.PingInterval,
					DialTimeout:  cfg.Channel.DialTimeout,
				}, log)
				defer hub.Close()
				ch = hub
			}

			flow := usecase.SessionOptions{
				PollInterval:   cfg.Reconcile.Subscription.PollInterval,
				MaxAttempts:    cfg.Reconcile.Subscription.MaxAttempts,
				RequestTimeout: cfg.PaymentAPI.Timeout,
				Flow:           usecase.FlowCLI,
			}
			if cmd.Flags().Changed("interval") {
				flow.PollInterval = interval
			}
			if cmd.Flags().Changed("max-attempts") {
				flow.MaxAttempts = maxAttempts
			}
			uc := usecase.NewPaymentConfirmationUseCase(nil, nil, statusAPI, ch, nil, usecase.Flows{Await: flow}, log)

			ctx := cmd.Context()
			kind, err := uc.ResolveKind(ctx, args[0], hint)
			if err != nil {
				return err
			}
			out, err := uc.Await(ctx, args[0], kind, usecase.Recipient{})
			if err != nil {
				return err
			}
			if err := printOutcome(cmd.OutOrStdout(), out, lang, opts.jsonOut); err != nil {
				return err
			}
			if out.Failed() {
				return fmt.Errorf("payment %s not confirmed: %s", out.PaymentID, out.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&hint, "type", "t", "", "payment type (order|subscription); asked from the API when empty")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "poll interval")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 120, "polls before giving up (0 = until interrupted)")
	cmd.Flags().StringVar(&lang, "lang", i18n.DefaultLang, "language of the summary line")
	return cmd
}

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <paymentId>",
		Short: "Print the current status of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			statusAPI := paymentapi.NewClient(cfg.PaymentAPI.BaseURL, cfg.PaymentAPI.Token, cfg.PaymentAPI.Timeout)
			uc := usecase.NewPaymentConfirmationUseCase(nil, nil, statusAPI, nil, nil, usecase.Flows{}, opts.logger(cmd.ErrOrStderr()))

			snap, err := uc.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if opts.jsonOut {
				return json.NewEncoder(w).Encode(map[string]any{
					"paymentId": snap.PaymentID,
					"status":    snap.Status,
					"amount":    snap.Amount,
					"subjectId": snap.SubjectID,
					"terminal":  snap.Status.IsTerminal(),
				})
			}
			_, err = fmt.Fprintf(w, "%s\t%s\t%s\tterminal=%t\n", snap.PaymentID, snap.Status, i18n.FormatMoney(snap.Amount), snap.Status.IsTerminal())
			return err
		},
	}
}

func nextDateCmd(opts *rootOptions) *cobra.Command {
	var (
		frequency string
		days      string
		start     string
		end       string
		last      string
		now       string
		inactive  bool
	)
	cmd := &cobra.Command{
		Use:   "next-date",
		Short: "Compute the next execution date of a recurring order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rule := model.ScheduleRule{Frequency: model.Frequency(frequency), IsActive: !inactive}
			var err error
			if rule.StartDate, err = parseDate(start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if rule.EndDate, err = parseOptionalDate(end); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if rule.LastCreatedAt, err = parseOptionalDate(last); err != nil {
				return fmt.Errorf("--last: %w", err)
			}
			if rule.DaysOfWeek, err = parseDays(days); err != nil {
				return fmt.Errorf("--days: %w", err)
			}
			at := time.Now()
			if now != "" {
				if at, err = parseDate(now); err != nil {
					return fmt.Errorf("--now: %w", err)
				}
			}

			next, err := model.NextExecution(rule, at)
			if err != nil {
				return err
			}
			status := rule.Status(at)
			w := cmd.OutOrStdout()
			if opts.jsonOut {
				return json.NewEncoder(w).Encode(map[string]any{"nextExecution": next, "status": status})
			}
			_, err = fmt.Fprintf(w, "%s\t%s\n", next.Format(dateLayout), status)
			return err
		},
	}
	cmd.Flags().StringVarP(&frequency, "frequency", "f", "", "daily|every_other_day|weekly|custom")
	cmd.Flags().StringVar(&days, "days", "", "custom weekdays, 0=Sunday (e.g. 1,3)")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "end date")
	cmd.Flags().StringVar(&last, "last", "", "date the last order was created")
	cmd.Flags().StringVar(&now, "now", "", "evaluate at this date instead of today")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "treat the schedule as switched off")
	_ = cmd.MarkFlagRequired("frequency")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func printOutcome(w io.Writer, out model.Outcome, lang string, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(out)
	}
	texts, err := i18n.NewBundle(i18n.LocalesFS)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\t%s\tattempts=%d\tsource=%s\n%s\n",
		out.Kind, out.Reason, out.Attempts, out.Source, i18n.OutcomeMessage(texts.For(lang), out))
	return err
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDays(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		d, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
