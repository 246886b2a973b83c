// Command player is a reference agent: it logs into the matchmaker,
// connects to the match it's assigned, and plays out random or
// interactive turns through the client adapter.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rlarena/matchcore/internal/clientadapter"
	"github.com/rlarena/matchcore/internal/frontend"
	"github.com/rlarena/matchcore/internal/log"
	"github.com/rlarena/matchcore/internal/rankingstore"
	_ "github.com/rlarena/matchcore/internal/rpcutil" // registers the gob wire codec
)

func main() {
	var (
		matchmakerAddr = flag.String("matchmaker", "localhost:50051", "matchmaking frontend address")
		username       = flag.String("username", "", "account username")
		password       = flag.String("password", "", "account password")
		clientTick     = flag.Int("client-tick-rate", 10, "this client's own polling rate, in Hz")
		interactive    = flag.Bool("interactive", false, "prompt for each action on stdin instead of acting randomly")
	)
	flag.Parse()

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "player: --username and --password are required")
		os.Exit(2)
	}

	if err := run(*matchmakerAddr, *username, *password, *clientTick, *interactive); err != nil {
		log.Error("player: %v", err)
		os.Exit(1)
	}
}

func run(matchmakerAddr, username, password string, clientTick int, interactive bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(matchmakerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial matchmaker: %w", err)
	}
	defer conn.Close()

	mm := frontend.NewClient(conn)
	passwordHash := rankingstore.HashPassword([]byte(password), []byte(username))

	reply, err := mm.GetMatch(ctx, &frontend.QuickMatchRequest{Username: username, Password: passwordHash})
	if err != nil {
		return fmt.Errorf("get match: %w", err)
	}
	if reply.Server == "FAIL" {
		return fmt.Errorf("matchmaker refused: %s", reply.Response)
	}
	log.Info("player: assigned to %s (ranking %.1f)", reply.Server, reply.Ranking)

	matchCtx, matchCancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer matchCancel()

	adapter, err := clientadapter.Dial(matchCtx, reply.Server, reply.AuthKey, username, clientTick)
	if err != nil {
		return fmt.Errorf("join match: %w", err)
	}
	defer adapter.Close(matchCtx)

	obs, err := adapter.Reset(matchCtx)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	log.Info("player: initial observation %v", obs)

	reader := bufio.NewReader(os.Stdin)
	for {
		action := chooseAction(interactive, reader)
		result, err := adapter.Step(matchCtx, action)
		if err != nil {
			return fmt.Errorf("step: %w", err)
		}
		log.Info("player: observation=%v reward=%.2f done=%v", result.Observations, result.Reward, result.Done)
		if result.Done {
			log.Info("player: match over, winners=%v", result.Winners)
			envClass, dims, _, winners, serialized, err := adapter.GetServerState(matchCtx)
			if err != nil {
				return fmt.Errorf("get server state: %w", err)
			}
			log.Info("player: final server state env=%s dims=%v winners=%v serialized=%d bytes",
				envClass, dims, winners, len(serialized))
			return nil
		}
	}
}

func chooseAction(interactive bool, reader *bufio.Reader) []byte {
	if !interactive {
		if rand.Intn(2) == 1 {
			return []byte{1}
		}
		return []byte{0}
	}

	fmt.Print("action (0/1)> ")
	line, _ := reader.ReadString('\n')
	if strings.TrimSpace(line) == "1" {
		return []byte{1}
	}
	return []byte{0}
}
