package mesh

import (
	"github.com/anonmeet/anonmeet/internal/store"
	"github.com/anonmeet/anonmeet/internal/transport"
)

// Handshake records are merge-only documents keyed by the ordered pair
// (initiator, responder): fields are added, never cleared, until the pair's
// session ends. Candidate records are appended to the room's flat candidate
// collection, one per directional edge write.

func offerDoc(d transport.Description) store.Document {
	return store.Document{"offer": descriptionDoc(d)}
}

func answerDoc(d transport.Description) store.Document {
	return store.Document{"answer": descriptionDoc(d)}
}

func descriptionDoc(d transport.Description) map[string]any {
	return map[string]any{"type": d.Type, "sdp": d.SDP}
}

func decodeDescription(doc store.Document, field string) (transport.Description, bool) {
	raw, ok := doc[field].(map[string]any)
	if !ok {
		return transport.Description{}, false
	}
	typ, _ := raw["type"].(string)
	sdp, _ := raw["sdp"].(string)
	if typ == "" || sdp == "" {
		return transport.Description{}, false
	}
	return transport.Description{Type: typ, SDP: sdp}, true
}

func candidateDoc(from, to string, c transport.Candidate) store.Document {
	doc := store.Document{
		"from":      from,
		"to":        to,
		"candidate": c.Candidate,
	}
	if c.SDPMid != nil {
		doc["sdpMid"] = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		doc["sdpMLineIndex"] = float64(*c.SDPMLineIndex)
	}
	if c.UsernameFragment != nil {
		doc["usernameFragment"] = *c.UsernameFragment
	}
	return doc
}

func decodeCandidate(doc store.Document) (from, to string, c transport.Candidate, ok bool) {
	from, _ = doc["from"].(string)
	to, _ = doc["to"].(string)
	c.Candidate, _ = doc["candidate"].(string)
	if from == "" || to == "" || c.Candidate == "" {
		return "", "", transport.Candidate{}, false
	}
	if mid, found := doc["sdpMid"].(string); found {
		c.SDPMid = &mid
	}
	if idx, found := doc["sdpMLineIndex"].(float64); found {
		line := uint16(idx)
		c.SDPMLineIndex = &line
	}
	if frag, found := doc["usernameFragment"].(string); found {
		c.UsernameFragment = &frag
	}
	return from, to, c, true
}
