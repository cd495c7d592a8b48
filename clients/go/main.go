// fedgate CLI - Command line client for the federation gateway
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/Appello-Prototypes/fedgate/clients/go/fedgate"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("FEDGATE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := fedgate.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "register":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: fedgate register <slug> <name>")
			os.Exit(1)
		}
		resp, err := client.Register(os.Args[2], os.Args[3])
		exitOnError(err)
		fmt.Printf("Registered as: %s (%s)\n", resp.Slug, resp.ID)

	case "org":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: fedgate org <slug>")
			os.Exit(1)
		}
		resp, err := client.GetOrg(os.Args[2])
		exitOnError(err)
		printJSON(resp)

	case "discover":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: fedgate discover <org_slug> <agent_slug>")
			os.Exit(1)
		}
		resp, err := client.Discover(os.Args[2], os.Args[3])
		exitOnError(err)
		printJSON(resp)

	case "propose":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: fedgate propose <responder_slug> <skill> [skill...]")
			os.Exit(1)
		}
		resp, err := client.ProposeAgreement(fedgate.CreateAgreementRequest{
			ResponderSlug: os.Args[2],
			AllowedSkills: os.Args[3:],
			RateLimit:     100,
			CostLimitUSD:  10.0,
		})
		exitOnError(err)
		fmt.Printf("Proposed agreement: %s (status: %s)\n", resp.ID, resp.Status)

	case "agreements":
		resp, err := client.ListAgreements()
		exitOnError(err)
		for _, a := range resp.Agreements {
			fmt.Printf("  %s  %s <-> %s  [%s]\n", a.ID, a.InitiatorSlug, a.ResponderSlug, a.Status)
		}

	case "accept", "suspend", "resume", "revoke":
		if len(os.Args) < 3 {
			fmt.Fprintf(os.Stderr, "Usage: fedgate %s <agreement_id>\n", cmd)
			os.Exit(1)
		}
		var resp *fedgate.Agreement
		var err error
		switch cmd {
		case "accept":
			resp, err = client.AcceptAgreement(os.Args[2])
		case "suspend":
			resp, err = client.SuspendAgreement(os.Args[2])
		case "resume":
			resp, err = client.ResumeAgreement(os.Args[2])
		case "revoke":
			resp, err = client.RevokeAgreement(os.Args[2])
		}
		exitOnError(err)
		fmt.Printf("Agreement %s: %s\n", resp.ID, resp.Status)

	case "expose":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: fedgate expose <agent_slug> <skill> [skill...]")
			os.Exit(1)
		}
		resp, err := client.ExposeAgent(fedgate.ExposureRequest{
			AgentSlug: os.Args[2],
			Skills:    os.Args[3:],
		})
		exitOnError(err)
		fmt.Printf("Exposed: %s (%s)\n", resp.AgentSlug, resp.ID)

	case "invoke":
		if len(os.Args) < 6 {
			fmt.Fprintln(os.Stderr, "Usage: fedgate invoke <agreement_id> <agent_slug> <skill> <message> [conversation_id]")
			os.Exit(1)
		}
		req := fedgate.InvokeRequest{
			AgreementID:     os.Args[2],
			TargetAgentSlug: os.Args[3],
			Skill:           os.Args[4],
			Message:         os.Args[5],
		}
		if len(os.Args) > 6 {
			req.ConversationID = os.Args[6]
		}
		resp, err := client.Invoke(req)
		exitOnError(err)
		fmt.Printf("[%s] %s\n", resp.ConversationID, resp.Response)
		fmt.Printf("tokens: %d in / %d out, cost: $%.4f, latency: %dms\n",
			resp.InputTokens, resp.OutputTokens, resp.CostUSD, resp.LatencyMS)

	case "threads":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: fedgate threads <agreement_id> [limit]")
			os.Exit(1)
		}
		limit := 20
		if len(os.Args) > 3 {
			limit, _ = strconv.Atoi(os.Args[3])
		}
		resp, err := client.ListConversations(os.Args[2], limit, 0)
		exitOnError(err)
		for _, t := range resp.Conversations {
			fmt.Printf("  %s  %d msgs  $%.4f  last %s\n", t.ConversationID, t.MessageCount, t.TotalCostUSD, t.LastMessageAt)
		}

	case "transcript":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: fedgate transcript <conversation_id>")
			os.Exit(1)
		}
		resp, err := client.GetConversation(os.Args[2])
		exitOnError(err)
		for _, m := range resp.Messages {
			body := m.Body
			if !m.Decrypted {
				body = "<unreadable>"
			}
			fmt.Printf("[%s] %s -> %s: %s\n", m.CreatedAt, m.SourceOrgSlug, m.TargetOrgSlug, body)
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`fedgate CLI - Federation Invocation Gateway

Usage: fedgate <command> [options]

Commands:
  register <slug> <name>                          Register an organization
  org <slug>                                      Get an organization profile
  discover <org> <agent>                          Fetch an agent capability card
  propose <responder> <skill...>                  Propose a federation agreement
  agreements                                      List agreements
  accept|suspend|resume|revoke <agreement_id>     Agreement lifecycle
  expose <agent> <skill...>                       Expose an agent to partners
  invoke <agreement> <agent> <skill> <msg> [conv] Invoke a partner agent
  threads <agreement_id> [limit]                  List conversation threads
  transcript <conversation_id>                    Read a conversation
  health                                          Check gateway health

Environment:
  FEDGATE_URL      Gateway URL (default: http://localhost:8080)
  FEDGATE_CONFIG   Config directory (default: ~/.fedgate)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
