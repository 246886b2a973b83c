// Command adminclient is an operator CLI that polls a matchmaker's
// AdminStatus RPC and prints the waiting queue, port usage, and every live
// match.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rlarena/matchcore/internal/frontend"
	_ "github.com/rlarena/matchcore/internal/rpcutil" // registers the gob wire codec
)

func main() {
	var (
		matchmakerAddr = flag.String("matchmaker", "localhost:50051", "matchmaking frontend address")
		watch          = flag.Duration("watch", 0, "if nonzero, repeat the query at this interval instead of running once")
	)
	flag.Parse()

	if err := run(*matchmakerAddr, *watch); err != nil {
		fmt.Fprintf(os.Stderr, "adminclient: %v\n", err)
		os.Exit(1)
	}
}

func run(matchmakerAddr string, watch time.Duration) error {
	conn, err := grpc.NewClient(matchmakerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial matchmaker: %w", err)
	}
	defer conn.Close()

	client := frontend.NewClient(conn)

	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		status, err := client.AdminStatus(ctx, &frontend.AdminStatusRequest{})
		cancel()
		if err != nil {
			return fmt.Errorf("admin status: %w", err)
		}
		printStatus(status)

		if watch <= 0 {
			return nil
		}
		time.Sleep(watch)
	}
}

func printStatus(s *frontend.AdminStatusReply) {
	fmt.Printf("ports: %d free, %d in use\n", s.FreePorts, s.InUsePorts)
	fmt.Printf("queue (%d waiting): %v\n", len(s.QueueUsernames), s.QueueUsernames)
	if len(s.Matches) == 0 {
		fmt.Println("no active matches")
		return
	}
	fmt.Printf("%d active match(es):\n", len(s.Matches))
	for _, m := range s.Matches {
		fmt.Printf("  port %d: %v (%.0fs elapsed)\n", m.Port, m.Usernames, m.ElapsedSeconds)
	}
}
