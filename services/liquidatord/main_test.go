package main

import (
	"testing"

	"ripecore/native/lending"
	"ripecore/services/liquidatord/config"
)

func TestExampleConfigsLoad(t *testing.T) {
	t.Setenv("LIQUIDATORD_JWT_SECRET", "example")
	cfg, err := config.Load("config.example.yaml")
	if err != nil {
		t.Fatalf("load daemon config: %v", err)
	}
	if cfg.Storage.JournalDSN == "" || len(cfg.Auth.OracleSubjects) != 1 {
		t.Fatalf("unexpected daemon config %+v", cfg)
	}
	protocol, err := lending.LoadConfig("liquidation.example.toml")
	if err != nil {
		t.Fatalf("load protocol config: %v", err)
	}
	if protocol.Version != 1 || len(protocol.Assets) != 3 {
		t.Fatalf("unexpected protocol config version=%d assets=%d", protocol.Version, len(protocol.Assets))
	}
}
