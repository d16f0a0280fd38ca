package nightfall

import (
	"maps"
	"slices"
	"strconv"

	"github.com/xingyang1991/nightfall/internal/router"
	"github.com/xingyang1991/nightfall/protocol"
	"github.com/xingyang1991/nightfall/spec"
)

const (
	rootID        = "root"
	stealthHint   = "stealth"
	orderPrompt   = "What do you need tonight?"
	clarifyPrompt = "Which one did you mean?"
)

// surfaceFor names the surface that renders a flow stage.
func surfaceFor(st spec.FlowStage) string {
	switch st {
	case spec.FlowClarify:
		return protocol.SurfaceClarify
	case spec.FlowCandidate:
		return protocol.SurfaceCandidates
	case spec.FlowResult:
		return protocol.SurfaceResult
	default:
		return protocol.SurfaceOrder
	}
}

func component(id, typ string, props map[string]any) protocol.Component {
	return protocol.Component{ID: id, Component: protocol.NewNode(typ, props)}
}

// surfaceMessages is the update, data, render triple for one surface. Data
// keys are emitted in sorted order so identical input yields identical
// messages.
func surfaceMessages(surface string, comps []protocol.Component, data map[string]protocol.Value) []protocol.Message {
	msgs := []protocol.Message{protocol.SurfaceUpdate{Surface: surface, Components: comps}}
	if len(data) > 0 {
		contents := make([]protocol.Entry, 0, len(data))
		for _, k := range slices.Sorted(maps.Keys(data)) {
			contents = append(contents, protocol.Entry{Key: k, Value: data[k]})
		}
		msgs = append(msgs, protocol.DataModelUpdate{Surface: surface, Contents: contents})
	}
	return append(msgs, protocol.BeginRendering{Surface: surface, Root: rootID})
}

func orderMessages() []protocol.Message {
	return surfaceMessages(protocol.SurfaceOrder,
		[]protocol.Component{component(rootID, "Input", map[string]any{"placeholder": orderPrompt, "action": "submit"})},
		nil,
	)
}

func clarifyMessages(c router.Clarify) []protocol.Message {
	children := []string{"prompt"}
	comps := []protocol.Component{{}, component("prompt", "Text", map[string]any{"text": clarifyPrompt})}
	labels := make([]string, 0, len(c.Choices))
	for i, ch := range c.Choices {
		id := "choice_" + strconv.Itoa(i)
		children = append(children, id)
		comps = append(comps, component(id, "Button", map[string]any{"label": ch.Label, "action": "choose"}))
		labels = append(labels, ch.Label)
	}
	comps[0] = component(rootID, "Column", map[string]any{"children": children})
	return surfaceMessages(protocol.SurfaceClarify, comps, map[string]protocol.Value{
		"choices":    protocol.Strings(labels),
		"confidence": protocol.Number(c.Confidence),
	})
}

// candidateMessages renders the pool. In stealth mode image refs are left out.
func candidateMessages(items []spec.CandidateItem, variant int, stealth bool) []protocol.Message {
	children := make([]string, 0, len(items))
	comps := []protocol.Component{{}}
	list := make([]protocol.Value, 0, len(items))
	for i, it := range items {
		id := "candidate_" + strconv.Itoa(i)
		children = append(children, id)
		props := map[string]any{"candidateId": it.ID, "action": "select"}
		item := map[string]protocol.Value{
			"id":    protocol.String(it.ID),
			"title": protocol.String(it.Title),
		}
		if it.Tag != "" {
			item["tag"] = protocol.String(it.Tag)
		}
		if it.Desc != "" {
			item["desc"] = protocol.String(it.Desc)
		}
		if it.ImageRef != "" && !stealth {
			item["imageRef"] = protocol.String(it.ImageRef)
			props["imageRef"] = it.ImageRef
		}
		comps = append(comps, component(id, "CandidateCard", props))
		list = append(list, protocol.Map(item))
	}
	comps[0] = component(rootID, "List", map[string]any{"children": children, "dataPath": "items"})
	return surfaceMessages(protocol.SurfaceCandidates, comps, map[string]protocol.Value{
		"items":   protocol.List(list...),
		"variant": protocol.Number(float64(variant)),
	})
}

func endingValue(e *spec.Ending) protocol.Value {
	m := map[string]protocol.Value{
		"title":       protocol.String(e.Title),
		"reason":      protocol.String(e.Reason),
		"action":      protocol.String(string(e.Action)),
		"actionLabel": protocol.String(e.ActionLabel),
		"checklist":   protocol.Strings(e.Checklist),
		"riskFlags":   protocol.Strings(e.RiskFlags),
	}
	if p := e.Payload; p != nil {
		if p.PlaceID != "" {
			m["placeId"] = protocol.String(p.PlaceID)
		}
		if p.Query != "" {
			m["query"] = protocol.String(p.Query)
		}
		if p.Channel != "" {
			m["channel"] = protocol.String(p.Channel)
		}
		if p.DurationMin > 0 {
			m["durationMin"] = protocol.Number(float64(p.DurationMin))
		}
		if p.DeepLink != "" {
			m["deepLink"] = protocol.String(p.DeepLink)
		}
		if len(p.ArrivalChecklist) > 0 {
			m["arrival"] = protocol.Strings(p.ArrivalChecklist)
		}
	}
	return protocol.Map(m)
}

// resultMessages renders a bundle. The caller has already stripped media in
// stealth mode.
func resultMessages(b *spec.CuratorialBundle) []protocol.Message {
	children := []string{"primary", "plan_b"}
	comps := []protocol.Component{
		{},
		component("primary", "EndingCard", map[string]any{"dataPath": "primary", "emphasis": "primary", "action": "act"}),
		component("plan_b", "EndingCard", map[string]any{"dataPath": "planB", "emphasis": "secondary", "action": "act"}),
	}
	data := map[string]protocol.Value{
		"primary": endingValue(b.PrimaryEnding),
		"planB":   endingValue(b.PlanB),
	}
	if mp := b.MediaPack; mp != nil {
		if len(mp.Gallery) > 0 {
			children = append(children, "gallery")
			comps = append(comps, component("gallery", "Gallery", map[string]any{"dataPath": "gallery"}))
			data["gallery"] = protocol.Strings(mp.Gallery)
		}
		if mp.Soundtrack != "" {
			data["soundtrack"] = protocol.String(mp.Soundtrack)
		}
	}
	comps[0] = component(rootID, "Column", map[string]any{"children": children})
	return surfaceMessages(protocol.SurfaceResult, comps, data)
}

func ambientMessages(tokens []string) []protocol.Message {
	return surfaceMessages(protocol.SurfaceAmbient,
		[]protocol.Component{component(rootID, "AmbientStrip", map[string]any{"dataPath": "tokens"})},
		map[string]protocol.Value{"tokens": protocol.Strings(tokens)},
	)
}

func pocketMessages(total int, latest string) []protocol.Message {
	return surfaceMessages(protocol.SurfacePocket,
		[]protocol.Component{component(rootID, "PocketBadge", map[string]any{"dataPath": "count"})},
		map[string]protocol.Value{
			"count":  protocol.Number(float64(total)),
			"latest": protocol.String(latest),
		},
	)
}

// Notice codes shown on the notice surface.
const (
	NoticeRateLimited = "rate_limited"
	NoticeTryAgain    = "try_again"
	NoticeSaved       = "saved"
)

func noticeMessages(code, text string) []protocol.Message {
	return surfaceMessages(protocol.SurfaceNotice,
		[]protocol.Component{component(rootID, "Text", map[string]any{"text": text, "tone": "quiet"})},
		map[string]protocol.Value{"code": protocol.String(code)},
	)
}

// stripMedia drops everything visibility-sensitive from a bundle.
func stripMedia(b *spec.CuratorialBundle) {
	b.MediaPack = nil
	for i := range b.CandidatePool {
		b.CandidatePool[i].ImageRef = ""
	}
}
