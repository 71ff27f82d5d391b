package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/bjarneo/peerchat/internal/config"
	"github.com/bjarneo/peerchat/internal/filetransfer"
	"github.com/bjarneo/peerchat/internal/network"
	"github.com/bjarneo/peerchat/internal/session"
	"github.com/bjarneo/peerchat/internal/ui"
)

var (
	listenAddr string
	saveConfig bool
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Wait for a peer to join and start chatting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sender := ui.NewProgramSender()
		ch, err := host(cmd.Context(), cmd, channelOptions(sender)...)
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), ch, sender)
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <addr>",
	Short: "Join a hosting peer",
	Long: `Join a hosting peer. With the tcp transport addr is host:port; with ws it is
host:port or a full ws:// URL.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender := ui.NewProgramSender()
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		var (
			ch  *network.Channel
			err error
		)
		opts := channelOptions(sender)
		switch cfg.Network.Transport {
		case config.TransportWebSocket:
			ch, err = network.DialWebSocket(ctx, websocketURL(args[0]), cfg.Nickname, opts...)
		default:
			ch, err = network.Dial(ctx, args[0], cfg.Nickname, opts...)
		}
		if err != nil {
			return err
		}
		return runChat(cmd.Context(), ch, sender)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if saveConfig {
			if err := cfg.Save(configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Saved to %s\n", configPath)
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	hostCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":8080", "Address to listen on")
	configCmd.Flags().BoolVar(&saveConfig, "save", false, "Write the effective configuration to --config")
}

func channelOptions(sender *ui.ProgramSender) []network.Option {
	return []network.Option{
		network.WithLogger(logger.Named("network")),
		network.WithProgress(func(name string, sent, total int) {
			done := float64(sent) / float64(total)
			sender.SendProgress(name, session.EncodeProgressShare+(1-session.EncodeProgressShare)*done)
		}),
	}
}

func websocketURL(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "ws://" + addr + cfg.Network.WSPath
}

// host waits for exactly one peer on the configured transport.
func host(ctx context.Context, cmd *cobra.Command, opts ...network.Option) (*network.Channel, error) {
	out := cmd.OutOrStdout()

	if cfg.Network.Transport == config.TransportWebSocket {
		acceptor := network.NewWebSocketAcceptor(logger.Named("websocket"))
		mux := http.NewServeMux()
		mux.Handle(cfg.Network.WSPath, acceptor)
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		ln, err := net.Listen("tcp", cfg.Network.Listen)
		if err != nil {
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("websocket server stopped", zap.Error(err))
			}
		}()
		// Upgraded connections are hijacked, so closing the server leaves the peer connected.
		defer srv.Close()

		fmt.Fprintf(out, "Waiting for a peer on ws://%s%s as %s ...\n", ln.Addr(), cfg.Network.WSPath, cfg.Nickname)
		return acceptor.Accept(ctx, cfg.Nickname, opts...)
	}

	ln, err := net.Listen("tcp", cfg.Network.Listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	defer ln.Close()

	fmt.Fprintf(out, "Waiting for a peer on %s as %s ...\n", ln.Addr(), cfg.Nickname)
	return network.Accept(ctx, ln, cfg.Nickname, opts...)
}

// runChat drives one session over ch until the UI exits or the channel fails.
func runChat(parent context.Context, ch *network.Channel, sender *ui.ProgramSender) error {
	defer ch.Close()

	sink, err := filetransfer.NewDirSink(cfg.Download.Dir, logger.Named("sink"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sess, err := session.New(session.Options{
		Username:  cfg.Nickname,
		Transport: ch,
		Sink:      sink,
		Notifier:  sender,
		Logger:    logger.Named("session"),
	})
	if err != nil {
		return err
	}
	sess.Listen(ctx)
	defer sess.Close()

	g, gctx := errgroup.WithContext(ctx)

	model := ui.NewModel(ui.Options{
		Context:         gctx,
		Chat:            sess,
		Nickname:        cfg.Nickname,
		PeerNickname:    ch.PeerNickname(),
		Fingerprint:     ch.Fingerprint(),
		PeerFingerprint: ch.PeerFingerprint(),
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx))

	g.Go(func() error {
		sender.Run(gctx, p)
		return nil
	})
	g.Go(func() error {
		err := ch.Run(gctx)
		sender.SendConnectionClosed()
		return err
	})
	g.Go(func() error {
		defer cancel()
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("ui: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("session ended", zap.Error(err))
		return err
	}
	logger.Info("session ended")
	return nil
}
