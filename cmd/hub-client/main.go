package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/life-stream-dev/life-stream-go-hub/internal/client"
	"github.com/life-stream-dev/life-stream-go-hub/internal/config"
	"github.com/life-stream-dev/life-stream-go-hub/internal/event"
	"github.com/life-stream-dev/life-stream-go-hub/internal/logger"
)

type textPayload struct {
	Text string `json:"text"`
}

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		if errors.Is(err, config.ErrConfigCreated) {
			fmt.Println(err.Error())
			return
		}
		fmt.Fprintf(os.Stderr, "Error occured while reading config %v\n", err)
		os.Exit(1)
	}
	loggerCallback := logger.Init(cfg.DebugMode, cfg.Log)
	cleaner := event.NewCleaner(loggerCallback)

	clientConfig, err := client.ConfigFrom(cfg.Client)
	if err == nil {
		var c *client.Client
		if c, err = client.New(clientConfig); err == nil {
			run(c, cleaner)
			return
		}
	}
	logger.FatalF("Invalid client configuration, details: %v", err)
	_ = cleaner.Clean()
	os.Exit(1)
}

func run(c *client.Client, cleaner *event.Cleaner) {
	cleaner.Add(event.CallableFunc(func(context.Context) error {
		c.Disconnect()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go printEvents(ctx, c)
	// stdin closing does not stop the agent; only a signal does
	go readCommands(c)

	c.Connect()
	if err := cleaner.Wait(ctx); err != nil {
		os.Exit(1)
	}
}

// readCommands publishes each stdin line as {"text": line} to every joined
// channel. Lines starting with a slash are commands:
//
//	/sub <channel>
//	/unsub <channel>
//	/pub <channel> <text>
func readCommands(c *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			channels := c.Channels()
			if len(channels) == 0 {
				logger.Warn("Not in any channel, use /sub <channel> first")
				continue
			}
			for _, ch := range channels {
				if _, err := c.Publish(ch, textPayload{Text: line}); err != nil {
					logger.WarnF("Request refused locally, details: %v", err)
				}
			}
			continue
		}

		command, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)
		var err error
		switch command {
		case "/sub":
			err = c.Subscribe(rest)
		case "/unsub":
			err = c.Unsubscribe(rest)
		case "/pub":
			channel, text, _ := strings.Cut(rest, " ")
			_, err = c.Publish(channel, textPayload{Text: strings.TrimSpace(text)})
		default:
			logger.WarnF("Unknown command %s, expected /sub, /unsub or /pub", command)
			continue
		}
		if err != nil {
			logger.WarnF("Request refused locally, details: %v", err)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.ErrorF("Fail to read stdin, details: %v", err)
	}
}

func printEvents(ctx context.Context, c *client.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.Events():
			switch e := ev.(type) {
			case client.MessageReceived:
				var p textPayload
				if err := json.Unmarshal(e.Message.Payload, &p); err == nil && p.Text != "" {
					fmt.Printf("[%s] %s: %s\n", e.Message.Channel, e.Message.From, p.Text)
				} else {
					fmt.Printf("[%s] %s: %s\n", e.Message.Channel, e.Message.From, e.Message.Payload)
				}
			case client.Subscribed:
				fmt.Printf("joined %s, members: %s\n", e.Channel, strings.Join(e.Members, ", "))
			case client.Unsubscribed:
				fmt.Printf("left %s\n", e.Channel)
			case client.MemberJoined:
				fmt.Printf("%s joined %s\n", e.Member, e.Channel)
			case client.MemberLeft:
				fmt.Printf("%s left %s\n", e.Member, e.Channel)
			case client.ServerError:
				fmt.Printf("hub error: %s\n", e.Message)
			case client.Disconnected:
				logger.InfoF("Disconnected (status %d): %v", e.Code, e.Reason)
			case client.ConnectFailed:
				logger.WarnF("Connect attempt %d failed: %v", e.Attempt, e.Err)
			default:
				logger.DebugF("Event %T", ev)
			}
		}
	}
}
