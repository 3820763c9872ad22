// Interactive terminal client for the Deewan realtime layer.
// Connects like a dashboard tab would: joins with an identity, prints every
// incoming notification, activity, presence and data-change event, and lets
// you emit events from stdin. Handy for poking at a running server.

package main

import (
	"Deewan/internal/entity"
	"Deewan/pkg/client"
	"Deewan/pkg/log"
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "deewan-client",
		Short:        "Interactive client for the Deewan realtime server",
		SilenceUsage: true,
		RunE:         run,
	}
	rootCmd.Flags().String("server", "ws://localhost:8000/api/realtime/ws", "websocket endpoint of the realtime server")
	rootCmd.Flags().String("user", "", "user id to join as")
	viper.BindPFlag("server", rootCmd.Flags().Lookup("server"))
	viper.BindPFlag("user", rootCmd.Flags().Lookup("user"))
	viper.SetEnvPrefix("DEEWAN")
	viper.AutomaticEnv()
	return rootCmd
}

func run(cmd *cobra.Command, args []string) error {
	logger := log.New("cli")
	c := client.New(viper.GetString("server"), logger)

	c.OnConnectionChange(func(connected bool) {
		if connected {
			fmt.Println("* connected")
		} else {
			fmt.Println("* disconnected, reconnecting ...")
		}
	})
	c.Store().SubscribeNotifications(func(n entity.Notification) {
		fmt.Printf("[notification %s] %s: %s\n", n.Kind, n.Title, n.Message)
	})
	c.Store().SubscribeActivities(func(a entity.UserActivity) {
		fmt.Printf("[activity] %s %s %s %s\n", a.UserID, a.Action, a.Entity, a.EntityID)
	})
	c.Store().SubscribePresence(func(online []string) {
		fmt.Printf("[online] %s\n", strings.Join(online, ", "))
	})
	c.Store().SubscribeDataChanges(func(ch entity.DataChangeEvent) {
		fmt.Printf("[data-changed] %s %s %s by %s\n", ch.ChangeKind, ch.EntityKind, ch.EntityID, ch.ActingUserID)
	})

	c.Connect()
	if user := viper.GetString("user"); user != "" {
		c.AttachIdentity(user)
	}
	defer func() {
		c.DetachIdentity()
		c.Close()
	}()

	fmt.Println("commands: notify <target|-> <kind> <title> :: <message> | activity <action> <entity> <id> | change <kind> <entity> <id> | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "notify":
			if len(fields) < 4 {
				fmt.Println("usage: notify <target|-> <kind> <title> :: <message>")
				continue
			}
			rest := strings.SplitN(strings.Join(fields[3:], " "), "::", 2)
			notification := entity.Notification{
				Kind:  fields[2],
				Title: strings.TrimSpace(rest[0]),
			}
			if len(rest) == 2 {
				notification.Message = strings.TrimSpace(rest[1])
			}
			if notification.Message == "" {
				// The dispatcher drops notifications without a message
				notification.Message = notification.Title
			}
			if fields[1] != "-" {
				notification.TargetUserID = fields[1]
			}
			c.SendNotification(notification)
		case "activity":
			if len(fields) != 4 {
				fmt.Println("usage: activity <action> <entity> <id>")
				continue
			}
			c.SendActivity(entity.UserActivity{Action: fields[1], Entity: fields[2], EntityID: fields[3]})
		case "change":
			if len(fields) != 4 {
				fmt.Println("usage: change <kind> <entity> <id>")
				continue
			}
			c.EmitDataChange(entity.DataChangeEvent{ChangeKind: fields[1], EntityKind: fields[2], EntityID: fields[3]})
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
	return scanner.Err()
}
