package root

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/docker/agentcall/pkg/loader"
	"github.com/docker/agentcall/pkg/runtime"
	"github.com/docker/agentcall/pkg/tools"
)

type dispatchFlags struct {
	input  string
	output string
	format string
}

func newDispatchCmd() *cobra.Command {
	var flags dispatchFlags

	cmd := &cobra.Command{
		Use:   "dispatch <config>",
		Short: "Run the function calls of one model turn",
		Long: `Read the function calls of one model turn and print the merged reply.

The input is either a JSON array of function calls or a content whose
functionCall parts are run. functionResponse parts in that content answer
earlier credential requests or supply the result of long-running calls.`,
		Example: `  agentcall dispatch ./agent.yaml --input calls.json
  echo '[{"name":"get_forecast","args":{"city":"paris"}}]' | agentcall dispatch ./agent.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&flags.input, "input", "i", "-", "File holding the function calls (- for stdin)")
	cmd.Flags().StringVar(&flags.output, "out", "", "Write the reply to this file instead of stdout")
	cmd.Flags().StringVar(&flags.format, "format", "json", "Output format (json or text)")

	return cmd
}

// turn is one decoded dispatch input.
type turn struct {
	calls         []*genai.FunctionCall
	authResponses []*genai.FunctionResponse
	results       []*genai.FunctionResponse
}

type dispatchOutput struct {
	Contents       []*genai.Content `json:"contents"`
	Actions        *tools.Actions   `json:"actions,omitempty"`
	LongRunningIDs []string         `json:"longRunningToolIds,omitempty"`
	ResumedIDs     []string         `json:"resumedCallIds,omitempty"`
}

func (f *dispatchFlags) run(cmd *cobra.Command, ref string) (err error) {
	ctx := cmd.Context()

	if f.format != "json" && f.format != "text" {
		return fmt.Errorf("unknown output format %q", f.format)
	}

	data, err := readInput(cmd.InOrStdin(), f.input)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	in, err := parseTurn(data)
	if err != nil {
		return err
	}

	loaded, err := loadAll(ctx, ref)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := loaded.Close(ctx); err == nil {
			err = closeErr
		}
	}()

	reply, resumed, err := dispatchTurn(ctx, loaded, in)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return RuntimeError{Err: err}
	}

	var out bytes.Buffer
	if f.format == "text" {
		printReply(&out, in.calls, reply)
	} else {
		enc := json.NewEncoder(&out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(newDispatchOutput(reply, resumed)); err != nil {
			return err
		}
	}
	return writeOutput(cmd.OutOrStdout(), f.output, out.Bytes())
}

func parseTurn(data []byte) (turn, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return turn{}, errors.New("no function calls in input")
	}

	if data[0] == '[' {
		var calls []*genai.FunctionCall
		if err := json.Unmarshal(data, &calls); err != nil {
			return turn{}, fmt.Errorf("decoding function calls: %w", err)
		}
		return turn{calls: slices.DeleteFunc(calls, func(c *genai.FunctionCall) bool { return c == nil })}, nil
	}

	var content genai.Content
	if err := json.Unmarshal(data, &content); err != nil {
		return turn{}, fmt.Errorf("decoding content: %w", err)
	}

	var in turn
	for _, part := range content.Parts {
		switch {
		case part == nil:
		case part.FunctionCall != nil:
			in.calls = append(in.calls, part.FunctionCall)
		case part.FunctionResponse != nil && part.FunctionResponse.Name == runtime.RequestCredentialName:
			in.authResponses = append(in.authResponses, part.FunctionResponse)
		case part.FunctionResponse != nil:
			in.results = append(in.results, part.FunctionResponse)
		}
	}
	if len(in.calls) == 0 && len(in.authResponses) == 0 && len(in.results) == 0 {
		return turn{}, errors.New("no function calls or responses in input")
	}
	return in, nil
}

// dispatchTurn stores the credentials the user sent back, completes deferred
// calls and runs the new calls. Calls resumed after a credential request must
// be part of in.calls to run again.
func dispatchTurn(ctx context.Context, loaded *loader.Loaded, in turn) (*runtime.Reply, []string, error) {
	resumed, err := loaded.Dispatcher.ResolveAuthResponses(ctx, in.authResponses)
	if err != nil {
		return nil, resumed, err
	}
	for _, id := range resumed {
		if !slices.ContainsFunc(in.calls, func(c *genai.FunctionCall) bool { return c.ID == id }) {
			slog.Warn("Credential stored but the call that asked for it is not in the input", "call_id", id)
		}
	}

	combined := &runtime.Reply{}
	for _, resp := range in.results {
		if r := loaded.Dispatcher.Complete(ctx, resp); r != nil {
			combined.Responses = append(combined.Responses, r.Responses...)
		} else {
			slog.Warn("Ignoring result for a call that is not awaiting", "call_id", resp.ID)
		}
	}

	if len(in.calls) > 0 {
		if r := loaded.Dispatcher.Dispatch(ctx, in.calls); r != nil {
			combined.Responses = append(combined.Responses, r.Responses...)
			combined.AuthRequest = r.AuthRequest
			combined.Actions = r.Actions
			combined.LongRunningIDs = r.LongRunningIDs
		}
	}

	return combined, resumed, nil
}

func newDispatchOutput(reply *runtime.Reply, resumed []string) dispatchOutput {
	out := dispatchOutput{
		Contents:       reply.Contents(),
		LongRunningIDs: reply.LongRunningIDs,
		ResumedIDs:     resumed,
	}
	if out.Contents == nil {
		out.Contents = []*genai.Content{}
	}
	if !reply.Actions.IsEmpty() {
		out.Actions = &reply.Actions
	}
	return out
}

// printReply writes one line per call, in the order they were declared.
func printReply(w io.Writer, calls []*genai.FunctionCall, reply *runtime.Reply) {
	responses := make(map[string]*genai.FunctionResponse, len(reply.Responses))
	for _, resp := range reply.Responses {
		responses[resp.ID] = resp
	}

	seen := make(map[string]bool, len(calls))
	for _, call := range calls {
		seen[call.ID] = true
		if resp, ok := responses[call.ID]; ok {
			body, _ := json.Marshal(resp.Response)
			fmt.Fprintf(w, "response %s %s %s\n", call.ID, call.Name, body)
			continue
		}
		if req, ok := reply.Actions.RequestedAuthConfigs[call.ID]; ok {
			fmt.Fprintf(w, "auth %s %s %s", call.ID, call.Name, req.Scheme.Type)
			if c := req.ExchangedCredential; c != nil && c.OAuth2 != nil && c.OAuth2.AuthURI != "" {
				fmt.Fprintf(w, " %s", c.OAuth2.AuthURI)
			}
			fmt.Fprintln(w)
			continue
		}
		fmt.Fprintf(w, "deferred %s %s\n", call.ID, call.Name)
	}

	// Results of earlier long-running calls.
	for _, resp := range reply.Responses {
		if !seen[resp.ID] {
			body, _ := json.Marshal(resp.Response)
			fmt.Fprintf(w, "response %s %s %s\n", resp.ID, resp.Name, body)
		}
	}
}
