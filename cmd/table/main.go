// Command table is a headless client for the daily work table: it loads the
// record list and user directory from the API, then applies line-based edit
// commands through the mutation coordinator, so the whole optimistic pipeline
// can be driven without a browser.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"daily-work-tracker/internal/cache"
	"daily-work-tracker/internal/config"
	"daily-work-tracker/internal/coordinator"
	"daily-work-tracker/internal/docs"
	"daily-work-tracker/internal/models"
	"daily-work-tracker/internal/notify"
	"daily-work-tracker/internal/status"
	"daily-work-tracker/internal/submit"
	"daily-work-tracker/internal/telemetry"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	items, users, err := loadSnapshot(ctx, cfg.SubmitBaseURL)
	if err != nil {
		log.Fatalf("load snapshot: %v", err)
	}

	rc := cache.New()
	rc.Load(items)

	capturer, err := docs.NewCapturer(ctx, cfg, docs.DirSource{Dir: cfg.DocOutputDir})
	if err != nil {
		log.Fatalf("init document capture: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	notifier := notify.Fanout{
		notify.LogNotifier{},
		notify.NewRedisNotifier(redisClient, cfg.NotifyChannel),
	}

	coord := coordinator.New(coordinator.Options{
		Submitter:        submit.NewHTTPSubmitter(cfg.SubmitBaseURL, cfg.SubmitTimeout),
		Documents:        capturer,
		Notifier:         notifier,
		Cache:            rc,
		Machine:          status.NewMachine(cfg.ReopenClearsTimes),
		ExemptCategories: cfg.ExemptCategories,
	})
	defer coord.Close()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("loaded %d work items, %d users", len(items), len(users))
	fmt.Println("commands: list | set <id> <location|description> <value> | status <id> <status> | assign <id> <user> <subject> | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		args := strings.Fields(line)
		switch args[0] {
		case "quit":
			return
		case "list":
			printTable(rc.List())
		case "set":
			if len(args) < 4 {
				fmt.Println("usage: set <id> <field> <value>")
				continue
			}
			err := coord.Propose(args[1], args[2], strings.Join(args[3:], " "), cfg.DebounceText)
			report(err)
		case "status":
			if len(args) != 3 {
				fmt.Println("usage: status <id> <status>")
				continue
			}
			next, err := status.Parse(args[2])
			if err != nil {
				report(err)
				continue
			}
			report(coord.ChangeStatus(args[1], next))
		case "assign":
			if len(args) != 4 {
				fmt.Println("usage: assign <id> <user> <subject>")
				continue
			}
			subject, ok := findUser(users, args[3])
			if !ok {
				fmt.Printf("unknown subject %s\n", args[3])
				continue
			}
			managerID := args[2]
			report(coord.CommitAssignment(args[1], &managerID, subject, users))
		default:
			fmt.Printf("unknown command %q\n", args[0])
		}
	}
}

func report(err error) {
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func printTable(items []models.WorkItem) {
	for _, it := range items {
		st, err := status.Of(it)
		label := it.Status
		if err == nil {
			if meta, ok := status.MetaFor(st); ok {
				label = meta.Label
			}
		}
		assigned := "-"
		if it.AssignedID != nil {
			assigned = *it.AssignedID
		}
		fmt.Printf("%s  %-18s resub=%d  assigned=%s  %s @ %s\n",
			it.ID, label, it.ResubmissionCount, assigned, it.Description, it.Location)
	}
}

func findUser(users []models.User, id string) (models.User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return models.User{}, false
}

func loadSnapshot(ctx context.Context, baseURL string) ([]models.WorkItem, []models.User, error) {
	var itemsResp struct {
		Items []models.WorkItem `json:"items"`
	}
	if err := getJSON(ctx, baseURL+"/workitems", &itemsResp); err != nil {
		return nil, nil, err
	}
	var usersResp struct {
		Users []models.User `json:"users"`
	}
	if err := getJSON(ctx, baseURL+"/users", &usersResp); err != nil {
		return nil, nil, err
	}
	return itemsResp.Items, usersResp.Users, nil
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
