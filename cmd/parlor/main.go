// Command parlor runs the multi-agent conversation scheduler: serve for a
// headless deployment, chat for an interactive console.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/parlor-dev/parlor"
	"github.com/parlor-dev/parlor/internal/events"
	"github.com/parlor-dev/parlor/pkg/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "parlor",
	Short: "parlor: multi-agent conversation scheduler",
	Long: "Parlor hosts a shared conversation between configured AI responders,\n" +
		"pacing who answers, in what order and how fast, with per-room\n" +
		"sleep/wake backpressure.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: parlor.yaml or $PARLOR_CONFIG)")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("PARLOR_CONFIG"); v != "" {
		return v
	}
	return "parlor.yaml"
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("parlor %s\n", parlor.Version)
		},
	}
}

// start loads the config and brings up a running deployment.
func start(ctx context.Context) (*parlor.Parlor, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	p, err := parlor.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler headless, logging events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			p, err := start(ctx)
			if err != nil {
				return err
			}
			log.Printf("parlor %s serving room %q", parlor.Version, p.Room())

			ch, unsub := p.Events(256)
			go func() {
				for ev := range ch {
					logEvent(ev)
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			log.Println("shutting down...")

			unsub()
			sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer scancel()
			return p.Shutdown(sctx)
		},
	}
}

func chatCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join the room from an interactive console",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			p, err := start(ctx)
			if err != nil {
				return err
			}
			defer func() {
				sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer scancel()
				_ = p.Shutdown(sctx)
			}()

			ch, unsub := p.Events(256)
			defer unsub()
			go func() {
				for ev := range ch {
					printEvent(ev)
				}
			}()

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)

			fmt.Printf("room %q: /topic, /sleep, /wake, /status, /quit\n", p.Room())
			for {
				input, err := line.Prompt(name + "> ")
				if err != nil {
					// Ctrl-C or EOF ends the session.
					fmt.Println()
					return nil
				}
				input = strings.TrimSpace(input)
				if input == "" {
					continue
				}
				line.AppendHistory(input)

				if strings.HasPrefix(input, "/") {
					if quit := command(ctx, p, input); quit {
						return nil
					}
					continue
				}
				if err := p.Post(ctx, name, input); err != nil {
					fmt.Printf("! %v\n", err)
				}
			}
		},
	}
	cmd.Flags().StringVar(&name, "name", "you", "display name for your messages")
	return cmd
}

// command handles one slash command; returns true to quit.
func command(ctx context.Context, p *parlor.Parlor, input string) bool {
	cmd, rest, _ := strings.Cut(input, " ")
	switch cmd {
	case "/quit", "/exit":
		return true

	case "/topic":
		if rest == "" {
			fmt.Println("usage: /topic <text>")
			return false
		}
		p.Scheduler().SetTopic(p.Room(), rest)

	case "/sleep":
		p.Scheduler().Sleep(p.Room(), "console")

	case "/wake":
		p.Scheduler().Wake(p.Room(), "console")

	case "/status":
		depth, head := p.Scheduler().QueueStatus()
		fmt.Printf("queue depth %d", depth)
		if head != nil {
			fmt.Printf(", head from %s", head.Sender)
		}
		fmt.Println()
		if st, ok := p.Scheduler().RoomState(p.Room()); ok {
			fmt.Printf("room: %d/%d agent messages, asleep=%v\n",
				st.MessageCount, st.MaxMessages, st.IsAsleep)
		}
		for _, part := range p.Scheduler().Participants() {
			fmt.Printf("  %-12s %s/%s active=%v generating=%v\n",
				part.Alias, part.Provider, part.Model, part.Active, part.IsGenerating)
		}

	default:
		fmt.Printf("unknown command %q\n", cmd)
	}
	return false
}

// printEvent renders one event for the console.
func printEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.AIResponse:
		fmt.Printf("\r%s: %s\n", e.Alias, e.Content)
	case events.GeneratingStart:
		fmt.Printf("\r… %s is typing\n", e.Alias)
	case events.AIError:
		fmt.Printf("\r! %s (%s/%s) failed after %s: %s\n", e.ParticipantID, e.Provider, e.Model, e.Elapsed, e.Err)
	case events.Sleeping:
		fmt.Printf("\r* agents are sleeping (%s)\n", e.Reason)
	case events.Awakened:
		fmt.Printf("\r* agents are awake (%s)\n", e.Reason)
	case events.TopicChanged:
		fmt.Printf("\r* topic: %s\n", e.Topic)
	}
}

// logEvent renders one event for server logs.
func logEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.AIResponse:
		log.Printf("[%s] %s: %s", e.RoomID, e.Alias, e.Content)
	case events.AIError:
		log.Printf("[%s] error from %s (%s/%s): %s", e.RoomID, e.ParticipantID, e.Provider, e.Model, e.Err)
	case events.Sleeping:
		log.Printf("[%s] sleeping: %s", e.RoomID, e.Reason)
	case events.Awakened:
		log.Printf("[%s] awakened: %s", e.RoomID, e.Reason)
	case events.TopicChanged:
		log.Printf("[%s] topic: %s", e.RoomID, e.Topic)
	case events.Failure:
		log.Printf("[%s] failure in %s: %s", e.RoomID, e.Op, e.Err)
	}
}
