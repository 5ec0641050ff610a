// Seeds a running devserver with fixture data for manual testing.
//
// Usage: go run ./cmd/devseed --token dev-token [--server http://127.0.0.1:7313]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/tandemapp/tandem-go/internal/devserver"
	"github.com/tandemapp/tandem-go/internal/entity"
	"github.com/tandemapp/tandem-go/internal/remote"
)

func main() {
	server := flag.String("server", "http://"+devserver.DefaultListen, "devserver base URL")
	token := flag.String("token", "", "bearer token the devserver expects (required)")
	tasks := flag.Int("tasks", 5, "number of sample tasks to create")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "devseed: --token is required")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	client := remote.NewClient(*server, &http.Client{Timeout: 30 * time.Second},
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: *token}), logger)

	if err := seed(context.Background(), client, *tasks); err != nil {
		fmt.Fprintf(os.Stderr, "devseed: %v\n", err)
		os.Exit(1)
	}
}

var sampleTitles = []string{
	"Buy groceries",
	"Pack school lunches",
	"Book dentist appointment",
	"Water the plants",
	"Plan weekend trip",
	"Return library books",
	"Fix the bike tire",
	"Call the plumber",
}

// seed creates two partner profiles, the partnership linking them, and a
// handful of tasks split between the partners.
func seed(ctx context.Context, client *remote.Client, tasks int) error {
	alex, err := createProfile(ctx, client, "Alex")
	if err != nil {
		return err
	}

	sam, err := createProfile(ctx, client, "Sam")
	if err != nil {
		return err
	}

	partnershipID := entity.NewID()
	_, err = client.Create(ctx, entity.KindPartnership.Collection(), partnershipID, remote.Fields{
		"members": jsonList(alex, sam),
	})
	if err != nil {
		return fmt.Errorf("creating partnership: %w", err)
	}

	fmt.Printf("partnership/%s (%s + %s)\n", partnershipID, alex, sam)

	owners := []string{alex, sam}

	for i := 0; i < tasks; i++ {
		id := entity.NewID()
		fields := remote.Fields{
			"title":    jsonString(sampleTitles[i%len(sampleTitles)]),
			"done":     json.RawMessage("false"),
			"assignee": jsonString(owners[i%len(owners)]),
		}

		if _, err := client.Create(ctx, entity.KindTask.Collection(), id, fields); err != nil {
			return fmt.Errorf("creating task %d: %w", i+1, err)
		}

		fmt.Printf("task/%s\n", id)
	}

	fmt.Printf("Seeded 2 profiles, 1 partnership, %d tasks\n", tasks)

	return nil
}

func createProfile(ctx context.Context, client *remote.Client, name string) (string, error) {
	id := entity.NewID()

	_, err := client.Create(ctx, entity.KindProfile.Collection(), id, remote.Fields{
		"name": jsonString(name),
	})
	if err != nil {
		return "", fmt.Errorf("creating profile %s: %w", name, err)
	}

	fmt.Printf("profile/%s (%s)\n", id, name)

	return id, nil
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s) // marshaling a string cannot fail
	return b
}

func jsonList(items ...string) json.RawMessage {
	b, _ := json.Marshal(items)
	return b
}
