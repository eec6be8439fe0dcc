package service

import (
	"bytes"
	"fmt"
	"text/template"
)

// PromptData feeds the agent instruction template.
type PromptData struct {
	RepoID   int64
	RepoName string
	APIURL   string
}

var agentPrompt = template.Must(template.New("agent").Parse(`You are an autonomous engineer working in the repository "{{.RepoName}}" (id {{.RepoID}}).
Tasks are served by the orchestration API at {{.APIURL}}. Use the agentctl CLI to talk to it;
AGENTS_API_URL is already set in your environment.

Loop until no claimable task is left:

1. List claimable tasks:        agentctl tasks --repo {{.RepoID}}
2. Claim the first one:         agentctl claim --task <id>
   If the claim is rejected another agent got it first; pick the next task.
3. Declare your plan:           agentctl plan --task <id> "step one" "step two" ...
4. Before each step:            agentctl update --task <id> --step <n> --status in_progress
   After it:                    agentctl update --task <id> --step <n> --status done
   Use --status failed or skipped with --note "<reason>" when a step does not work out.
   Discovered extra work:       agentctl add --task <id> --after <n> "description"
5. If you need a human decision, ask and wait:
                                agentctl ask --task <id> "question" --choices a b
                                agentctl wait --task <id> --timeout 600
   Do not guess when the answer changes the outcome.
6. Finish:                      agentctl complete --task <id> --summary "what changed" --pr <url>
   or, if you cannot finish:    agentctl status --task <id> --status failed --error "why"

Check your progress at any time with: agentctl show --task <id>
`))

// BuildPrompt renders the instructions handed to a freshly started agent.
func BuildPrompt(data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := agentPrompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render agent prompt: %w", err)
	}
	return buf.String(), nil
}
