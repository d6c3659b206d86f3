////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"gitlab.com/elixxir/marketchat/conversation"
	"gitlab.com/elixxir/marketchat/message"
	"gitlab.com/elixxir/marketchat/negotiation"
	"gitlab.com/elixxir/marketchat/transport"
)

const chatHelp = `Commands:
  /older                              load older messages
  /image <url> [caption]              send an image
  /quote <quoteID> <text>             discuss a quote
  /propose <product> <qty> <price>    start a negotiation
  /revise <id> <product> <qty> <price>
  /accept <id> [message]
  /decline <id> [message]
  /moreinfo <id> [message]
  /deals                              list negotiations
  /retry <localID>, /discard <localID>
  /quit
Anything else is sent as text.`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Opens a conversation from the terminal",
	Long: "Opens the conversation between --user and --peer on the relay " +
		"at --server and reads messages to send from stdin.",
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		userID := viper.GetString(userFlag)
		peerID := viper.GetString(peerFlag)
		if userID == "" || peerID == "" {
			jww.FATAL.Panicf("Both --%s and --%s are required", userFlag,
				peerFlag)
		}

		cp, err := conversation.GetParameters(
			viper.GetString(conversationParamsFlag))
		if err != nil {
			jww.FATAL.Panicf("Failed to parse conversation params: %+v", err)
		}

		tp := transport.GetDefaultParams()
		if server := viper.GetString(serverFlag); server != "" {
			tp.BaseURL = server
		}
		tp.Token = userID

		channel := transport.NewChannel(tp)
		client := transport.NewClient(userID, transport.NewREST(tp), channel)
		session := conversation.NewSession(userID, client, cp)
		defer func() {
			if err := session.Close(); err != nil {
				jww.WARN.Printf("%+v", err)
			}
			if err := channel.Close(); err != nil {
				jww.DEBUG.Printf("%+v", err)
			}
		}()

		r := newRenderer(os.Stdout, userID)
		session.OnUpdate(r.render)

		ctx := context.Background()
		if err = session.Open(ctx, peerID); err != nil {
			jww.FATAL.Panicf("Failed to open conversation with %s: %+v",
				peerID, err)
		}
		fmt.Printf("Talking to %s as %s. /help for commands.\n", peerID,
			userID)

		runChat(ctx, session, os.Stdin, os.Stdout)
	},
}

// runChat executes the commands read from in until EOF or /quit.
func runChat(ctx context.Context, s *conversation.Session, in io.Reader,
	out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		if err := execute(ctx, s, line, out); err != nil {
			fmt.Fprintf(out, "!!! %v\n", err)
		}
	}
}

// execute runs one line of input.
func execute(ctx context.Context, s *conversation.Session, line string,
	out io.Writer) error {
	if !strings.HasPrefix(line, "/") {
		_, err := s.SendText(ctx, line)
		return err
	}

	fields := strings.Fields(line)
	args := fields[1:]
	rest := func(from int) string {
		if len(args) <= from {
			return ""
		}
		return strings.Join(args[from:], " ")
	}

	var err error
	switch fields[0] {
	case "/help":
		fmt.Fprintln(out, chatHelp)
	case "/older":
		err = s.LoadOlder(ctx)
	case "/image":
		if len(args) < 1 {
			return errors.New("usage: /image <url> [caption]")
		}
		_, err = s.SendImage(ctx, args[0], rest(1))
	case "/quote":
		if len(args) < 2 {
			return errors.New("usage: /quote <quoteID> <text>")
		}
		_, err = s.SendQuoteDiscussion(ctx, args[0], rest(1))
	case "/propose":
		var p message.Proposal
		if p, err = parseProposal(args); err == nil {
			_, err = s.SendNegotiationProposal(ctx, p)
		}
	case "/revise":
		if len(args) < 1 {
			return errors.New("usage: /revise <id> <product> <qty> <price>")
		}
		var p message.Proposal
		if p, err = parseProposal(args[1:]); err == nil {
			_, err = s.ReviseNegotiation(ctx, args[0], p)
		}
	case "/accept", "/decline", "/moreinfo":
		if len(args) < 1 {
			return errors.Errorf("usage: %s <id> [message]", fields[0])
		}
		r := message.Response{Message: rest(1)}
		switch fields[0] {
		case "/accept":
			r.Accepted, r.CanProceed = true, true
		case "/moreinfo":
			r.RequiresMoreInfo = true
		}
		_, err = s.SendNegotiationResponse(ctx, args[0], r)
	case "/deals":
		printDeals(out, s.View(), s.SelfID())
	case "/retry":
		if len(args) < 1 {
			return errors.New("usage: /retry <localID>")
		}
		_, err = s.Retry(ctx, args[0])
	case "/discard":
		if len(args) < 1 {
			return errors.New("usage: /discard <localID>")
		}
		err = s.Discard(args[0])
	default:
		return errors.Errorf("unknown command %s, try /help", fields[0])
	}
	return err
}

func parseProposal(args []string) (message.Proposal, error) {
	if len(args) < 3 {
		return message.Proposal{}, errors.New(
			"a proposal needs <product> <qty> <price>")
	}
	qty, err := strconv.Atoi(args[1])
	if err != nil || qty < 1 {
		return message.Proposal{}, errors.Errorf("invalid quantity %q", args[1])
	}
	price, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil || price < 0 {
		return message.Proposal{}, errors.Errorf("invalid price %q", args[2])
	}
	return message.Proposal{
		ProductName:    args[0],
		Quantity:       qty,
		EstimatedPrice: price,
		Notes:          strings.Join(args[3:], " "),
	}, nil
}

// printDeals lists every negotiation of the view with what the local user
// can do next.
func printDeals(out io.Writer, v conversation.View, selfID string) {
	if len(v.Negotiations) == 0 {
		fmt.Fprintln(out, "No negotiations yet")
		return
	}
	ids := make([]string, 0, len(v.Negotiations))
	for id := range v.Negotiations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		th := v.Negotiations[id]
		actions := negotiation.Decide(th.RoleOf(selfID), th.Status)
		fmt.Fprintf(out, "%s  %-11s %d x %s for %d", id, th.Status,
			th.CurrentProposal.Quantity, th.CurrentProposal.ProductName,
			th.CurrentProposal.EstimatedPrice)
		if len(actions) > 0 {
			names := make([]string, len(actions))
			for i, a := range actions {
				names[i] = string(a)
			}
			fmt.Fprintf(out, "  [%s]", strings.Join(names, ", "))
		}
		fmt.Fprintln(out)
	}
}

func init() {
	chatCmd.Flags().String(serverFlag, "",
		"Base URL of the relay API, defaults to http://localhost:8080/api")
	bindFlagHelper(serverFlag, chatCmd)

	chatCmd.Flags().StringP(userFlag, "u", "", "Your user id")
	bindFlagHelper(userFlag, chatCmd)

	chatCmd.Flags().StringP(peerFlag, "t", "", "User id to talk to")
	bindFlagHelper(peerFlag, chatCmd)

	chatCmd.Flags().String(conversationParamsFlag, "",
		"Conversation parameters as JSON, overriding the defaults")
	bindFlagHelper(conversationParamsFlag, chatCmd)

	rootCmd.AddCommand(chatCmd)
}
