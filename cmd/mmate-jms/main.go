package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mmate "github.com/glimte/mmate-jms"
	"github.com/glimte/mmate-jms/config"
	"github.com/glimte/mmate-jms/contracts"
	"github.com/glimte/mmate-jms/internal/observability"
	"github.com/glimte/mmate-jms/message"
	"github.com/glimte/mmate-jms/messaging"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "mmate-jms",
		Short: "Send and receive JMS-style messages over a pub/sub transport",
		Long: `mmate-jms is a command line client for the mmate JMS adapter. It publishes and consumes
messages on the transport named in the configuration file.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a.cfg = cfg
			a.logger = newLogger(cfg.Log)
			slog.SetDefault(a.logger)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to the YAML configuration file")

	rootCmd.AddCommand(a.sendCmd(), a.receiveCmd(), a.listenCmd())
	return rootCmd
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Type == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLogLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// run opens a client, starts tracing and metrics when configured and calls fn with the client
func (a *app) run(ctx context.Context, fn func(ctx context.Context, client *mmate.Client) error) error {
	shutdownTracing, err := observability.InitTracing(ctx, a.cfg.Observability.Tracing, a.logger)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}

	client, err := mmate.NewClient(ctx, a.cfg, mmate.WithLogger(a.logger))
	if err != nil {
		_ = shutdownTracing(context.Background())
		return err
	}

	var shutdownMetrics func(context.Context) error
	if a.cfg.Observability.Metrics.Enabled {
		shutdownMetrics = observability.ServeMetrics(a.cfg.Observability.Metrics, client.Gatherer(), a.logger)
	}

	runErr := fn(ctx, client)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errs := []error{runErr, client.Close(closeCtx)}
	if shutdownMetrics != nil {
		errs = append(errs, shutdownMetrics(closeCtx))
	}
	errs = append(errs, shutdownTracing(closeCtx))
	return errors.Join(errs...)
}

func (a *app) sendCmd() *cobra.Command {
	var (
		topic      string
		text       string
		count      int
		priority   int
		ttl        time.Duration
		persistent bool
		props      []string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send text messages to a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := contracts.NonPersistent
			if persistent {
				mode = contracts.Persistent
			}
			properties, err := parseProperties(props)
			if err != nil {
				return err
			}

			return a.run(cmd.Context(), func(ctx context.Context, client *mmate.Client) error {
				session, err := client.Connection().CreateSession(false, contracts.AutoAcknowledge)
				if err != nil {
					return err
				}
				dest, err := session.CreateTopic(topic)
				if err != nil {
					return err
				}
				producer, err := session.CreateProducer(ctx, dest)
				if err != nil {
					return err
				}
				defer producer.Close()

				for i := range count {
					msg := session.CreateTextMessage(text)
					for name, value := range properties {
						if err := msg.Properties().SetString(name, value); err != nil {
							return err
						}
					}
					err := producer.Send(ctx, msg,
						messaging.WithDeliveryMode(mode),
						messaging.WithPriority(priority),
						messaging.WithTimeToLive(ttl))
					if err != nil {
						return fmt.Errorf("failed to send message %d: %w", i+1, err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), msg.MessageID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Destination topic")
	cmd.Flags().StringVar(&text, "text", "", "Message text")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of messages to send")
	cmd.Flags().IntVarP(&priority, "priority", "p", contracts.DefaultPriority, "Message priority (0-9)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Message time to live, 0 means never expire")
	cmd.Flags().BoolVar(&persistent, "persistent", true, "Send on the persistent path")
	cmd.Flags().StringArrayVar(&props, "property", nil, "String property as name=value, repeatable")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func (a *app) receiveCmd() *cobra.Command {
	var (
		topic     string
		durable   string
		timeout   time.Duration
		count     int
		clientAck bool
	)
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive messages from a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			ackMode := contracts.AutoAcknowledge
			if clientAck {
				ackMode = contracts.ClientAcknowledge
			}

			return a.run(cmd.Context(), func(ctx context.Context, client *mmate.Client) error {
				session, consumer, err := openConsumer(ctx, client, topic, durable, ackMode)
				if err != nil {
					return err
				}
				if err := client.Connection().Start(); err != nil {
					return err
				}

				for received := 0; count <= 0 || received < count; received++ {
					msg, err := consumer.Receive(ctx, timeout)
					if err != nil {
						return err
					}
					if msg == nil {
						a.logger.Info("no message before timeout", "topic", topic, "received", received)
						break
					}
					printMessage(cmd, msg)
				}
				if clientAck {
					return session.Acknowledge(ctx)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Source topic")
	cmd.Flags().StringVar(&durable, "durable", "", "Durable subscription name, requires client_id in the config")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for each message")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of messages to receive, 0 for no limit")
	cmd.Flags().BoolVar(&clientAck, "client-ack", false, "Acknowledge all messages once at the end")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func (a *app) listenCmd() *cobra.Command {
	var (
		topic   string
		durable string
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print messages from a topic as they arrive until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.run(ctx, func(ctx context.Context, client *mmate.Client) error {
				_, consumer, err := openConsumer(ctx, client, topic, durable, contracts.AutoAcknowledge)
				if err != nil {
					return err
				}
				err = consumer.SetMessageListener(messaging.MessageListenerFunc(func(_ context.Context, msg message.Message) error {
					printMessage(cmd, msg)
					return nil
				}))
				if err != nil {
					return err
				}
				if err := client.Connection().Start(); err != nil {
					return err
				}

				a.logger.Info("listening, press Ctrl+C to stop", "topic", topic)
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Source topic")
	cmd.Flags().StringVar(&durable, "durable", "", "Durable subscription name, requires client_id in the config")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func openConsumer(ctx context.Context, client *mmate.Client, topic, durable string, ackMode contracts.AckMode) (*messaging.Session, *messaging.Consumer, error) {
	session, err := client.Connection().CreateSession(false, ackMode)
	if err != nil {
		return nil, nil, err
	}
	dest, err := session.CreateTopic(topic)
	if err != nil {
		return nil, nil, err
	}

	var consumer *messaging.Consumer
	if durable != "" {
		consumer, err = session.CreateDurableSubscriber(ctx, dest, durable)
	} else {
		consumer, err = session.CreateConsumer(ctx, dest)
	}
	if err != nil {
		return nil, nil, err
	}
	return session, consumer, nil
}

func parseProperties(pairs []string) (map[string]string, error) {
	props := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid property %q, expected name=value", pair)
		}
		props[name] = value
	}
	return props, nil
}

func printMessage(cmd *cobra.Command, msg message.Message) {
	out := cmd.OutOrStdout()
	env := msg.Env()
	fmt.Fprintf(out, "%s priority=%d redelivered=%t kind=%s\n", env.MessageID, env.Priority, env.Redelivered, env.Kind())

	for _, name := range env.Properties().Names() {
		value, _ := env.Properties().GetString(name)
		fmt.Fprintf(out, "  %s=%s\n", name, value)
	}

	if tm, ok := msg.(*message.TextMessage); ok {
		if text, err := tm.Text(); err == nil {
			fmt.Fprintf(out, "  %s\n", text)
		}
	}
}
