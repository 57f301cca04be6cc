package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mirelabs/conductor/pkg/engine"
)

var (
	chatAgent        string
	chatConversation string
	chatUser         string
	chatStream       bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Run a single agent turn",
	Long: `Run one turn against a configured agent and print the reply.
With --conversation the turn continues that conversation's history and
the exchange is persisted afterwards. With --stream the reply is printed
as it arrives instead of all at once.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatAgent, "agent", "", "agent id (default is the first configured agent)")
	chatCmd.Flags().StringVar(&chatConversation, "conversation", "", "conversation key to continue and persist")
	chatCmd.Flags().StringVar(&chatUser, "user", "", "user id for credit accounting")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "print the reply as it streams")

	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()

	agent, ok := rt.lookupAgent(chatAgent)
	if !ok {
		return fmt.Errorf("unknown agent %q (configure agents in %s)", chatAgent, cfgFile)
	}

	ctx := cmd.Context()

	var history []engine.Message
	if chatConversation != "" {
		history, err = rt.conversations.Load(ctx, chatConversation)
		if err != nil {
			return fmt.Errorf("failed to load conversation: %w", err)
		}
	}

	req := engine.TurnRequest{
		Agent:       agent,
		UserID:      chatUser,
		UserMessage: strings.Join(args, " "),
		History:     history,
	}

	var result *engine.TurnResult
	if chatStream {
		result, err = streamTurn(ctx, cmd, rt, req)
	} else {
		result, err = rt.engine.Run(ctx, req)
	}
	if err != nil {
		return err
	}

	if !chatStream {
		cmd.Println(result.Text)
	}

	if len(result.ToolsUsed) > 0 {
		cmd.Printf("\n[tools: %s]\n", strings.Join(result.ToolsUsed, ", "))
	}
	if result.Cost > 0 {
		cmd.Printf("[%d prompt + %d completion tokens, %.4f credits]\n",
			result.Usage.PromptTokens, result.Usage.CompletionTokens, result.Cost)
	}
	if result.PaymentRequired {
		cmd.Println("[insufficient credits: this turn was not debited]")
	}

	if chatConversation != "" {
		if err := rt.conversations.AppendAll(ctx, chatConversation, result.Messages); err != nil {
			return fmt.Errorf("failed to persist conversation: %w", err)
		}
	}

	return nil
}

// streamTurn prints content fragments as they arrive and returns the final
// result from the done event.
func streamTurn(ctx context.Context, cmd *cobra.Command, rt *runtime, req engine.TurnRequest) (*engine.TurnResult, error) {
	var result *engine.TurnResult

	for event := range rt.engine.Stream(ctx, req) {
		switch event.Type {
		case engine.EventContent:
			cmd.Print(event.Content)
		case engine.EventStatus:
			cmd.Printf("\n[%s]\n", event.Status)
		case engine.EventDone:
			cmd.Println()
			result = event.Result
		case engine.EventError:
			cmd.Println()
			return nil, event.Err
		}
	}

	if result == nil {
		return nil, fmt.Errorf("turn ended without a result")
	}
	return result, nil
}
