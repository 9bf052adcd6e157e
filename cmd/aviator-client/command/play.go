package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	c "aviatorhub/cmd/aviator-client/command/client"
)

func play(parent context.Context, host, port string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Connecting to %s:%s...\n", host, port)
	conn, err := c.Dial(ctx, host, port, retryInterval)
	if err != nil {
		return err
	}
	game := c.NewGameClient(conn, nickname, os.Stdout)
	defer game.Close()
	fmt.Println("Connected")

	readErr := make(chan error, 1)
	go func() { readErr <- game.ReadLoop() }()

	quit := make(chan struct{})
	go readInput(game, os.Stdin, quit)

	select {
	case err := <-readErr:
		return err
	case <-quit:
	case <-ctx.Done():
		fmt.Println()
		if err := game.Bye(); err != nil {
			return err
		}
	}

	// the server closes the connection once it has seen Bye
	select {
	case <-readErr:
	case <-time.After(2 * time.Second):
	}
	return nil
}

func readInput(game *c.GameClient, in io.Reader, quit chan<- struct{}) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		done, err := game.HandleInput(scanner.Text())
		if done {
			close(quit)
			return
		}
		switch {
		case errors.Is(err, c.ErrInvalidBet), errors.Is(err, c.ErrInvalidCommand):
			fmt.Println("Error:", err)
		case err != nil:
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
}
