// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package producer

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// RootNode is the entry node of every tree.
const RootNode = "root"

// gotoPrefix marks an answer that jumps straight to a node.
const gotoPrefix = "goto:"

func (p *Producer) startTree(t Turn) (*Outcome, error) {
	if _, ok := t.Entry.Nodes[RootNode]; !ok {
		return nil, fmt.Errorf("tree %s has no %s node", t.Entry.ID, RootNode)
	}
	return p.visit(t, RootNode, nil), nil
}

// continueTree moves from the last asked node. A "goto:<node>" answer jumps
// directly; otherwise the answer is recorded under the asked node and the
// first child (by node id) whose condition holds is taken. With no
// qualifying child the last node is asked again.
func (p *Producer) continueTree(st *types.ConversationState, t Turn) (*Outcome, error) {
	nodes := t.Entry.Nodes
	answer := strings.TrimSpace(t.Answer)

	if strings.HasPrefix(strings.ToLower(answer), gotoPrefix) {
		target := strings.TrimSpace(answer[len(gotoPrefix):])
		if _, ok := nodes[target]; ok {
			return p.visit(t, target, st.Payload), nil
		}
	}

	if st.Payload == nil {
		st.Payload = map[string]string{}
	}
	st.Payload[st.Node] = answer

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	env := t.env(answer, st.Payload)
	for _, id := range ids {
		n := nodes[id]
		if n.Parent != st.Node {
			continue
		}
		if n.Condition != "" && !p.holds(n.Condition, env) {
			continue
		}
		return p.visit(t, id, st.Payload), nil
	}

	if _, ok := nodes[st.Node]; !ok {
		return nil, fmt.Errorf("tree %s has no node %q", t.Entry.ID, st.Node)
	}
	return p.visit(t, st.Node, st.Payload), nil
}

// visit renders node id with the answers collected so far. Router and
// terminal nodes end the conversation; a node with goToNode continues from
// that node on the next turn.
func (p *Producer) visit(t Turn, id string, payload map[string]string) *Outcome {
	n := t.Entry.Nodes[id]
	ask := p.message(n.Ask, t.env(t.Answer, payload))
	resp := p.response(t, ask.Text, ask.Speech)

	terminal := n.EndConversation || n.Router != nil
	resp.Conversation = &types.Conversation{
		ID:                 t.Entry.ID,
		Kind:               types.StateTree,
		Step:               id,
		Ask:                &ask,
		GoToNode:           n.GoToNode,
		RichResponseObject: n.RichResponseObject,
		EndConversation:    terminal,
	}
	if terminal {
		resp.EndConversation = true
		resp.Router = n.Router
		if n.Router != nil && n.Router.Mode == "text" && n.Router.Text != "" {
			resp.Text = n.Router.Text
			resp.Speech = n.Router.Speech
			if resp.Speech == "" {
				resp.Speech = n.Router.Text
			}
		}
		return &Outcome{Response: resp}
	}

	next := id
	if n.GoToNode != "" {
		if _, ok := t.Entry.Nodes[n.GoToNode]; ok {
			next = n.GoToNode
		}
	}
	return &Outcome{
		Response: resp,
		State:    &types.ConversationState{Kind: types.StateTree, Node: next, Payload: maps.Clone(payload)},
	}
}
