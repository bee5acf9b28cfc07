package types

import "testing"

func TestEventAttrAndKeys(t *testing.T) {
	evt := &Event{Type: "Liquidation", Attributes: map[string]string{"owner": "0xabc", "keeper": "0xdef", "repaidAmount": "10"}}
	if evt.Attr("owner") != "0xabc" {
		t.Fatalf("unexpected owner attr %q", evt.Attr("owner"))
	}
	if evt.Attr("missing") != "" {
		t.Fatalf("missing attr should be empty")
	}
	keys := evt.Keys()
	if len(keys) != 3 || keys[0] != "keeper" || keys[2] != "repaidAmount" {
		t.Fatalf("unexpected key order %v", keys)
	}
	var nilEvt *Event
	if nilEvt.Attr("owner") != "" || nilEvt.Keys() != nil || nilEvt.Clone() != nil {
		t.Fatalf("nil event helpers should be inert")
	}
}

func TestEventCloneIsIndependent(t *testing.T) {
	evt := &Event{Type: "ReserveSwap", Attributes: map[string]string{"vaultId": "1"}}
	cp := evt.Clone()
	cp.Attributes["vaultId"] = "2"
	if evt.Attr("vaultId") != "1" {
		t.Fatalf("clone mutated source: %q", evt.Attr("vaultId"))
	}
	if cp.Type != evt.Type {
		t.Fatalf("clone lost type")
	}
}
