package session

import (
	"fmt"
	"strings"

	"github.com/nexusdsp/dsp/pkg/channel"
	"github.com/nexusdsp/dsp/pkg/config"
	"github.com/nexusdsp/dsp/pkg/transport"
)

// FromOptions builds a Nexus Config from the loaded option surface,
// translating the enumerated configuration file/env knobs (spec §6) into
// the slot, recovery, and negotiation-proposal shape New expects.
func FromOptions(cfg *config.Config) Config {
	return Config{
		SlotCapacity:   uint32(cfg.Channel.QueueDepth),
		SequencerDepth: uint32(cfg.Channel.QueueDepth) * 2,
		MinKeepalive:   cfg.Session.MinKeepaliveTime,
		Recovery: transport.RecoveryConfig{
			Interval: cfg.Transport.RecoveryBaseDelay,
			Timeout:  cfg.Transport.RecoveryMaxDelay,
		},
		LocalProposal: buildProposal(cfg),
		Scheduler:     schedulerFor(cfg.Transport.Scheduler),
	}
}

func buildProposal(cfg *config.Config) string {
	fields := []string{
		fmt.Sprintf("queueDepth=%d", cfg.Channel.QueueDepth),
		fmt.Sprintf("maxFrameLength=%d", cfg.Channel.MaxRequestSize),
		fmt.Sprintf("orderedExecution=%t", cfg.Channel.OrderedExecution),
		fmt.Sprintf("digestData=%t", cfg.Codec.DigestData),
		fmt.Sprintf("digest=%s", strings.Join(cfg.Codec.PayloadDigests, ",")),
		fmt.Sprintf("compress=%s", strings.Join(cfg.Codec.PayloadCompression, ",")),
	}
	return strings.Join(fields, ";")
}

func schedulerFor(name string) channel.Scheduler {
	if name == "LEAST_QUEUE" {
		return &channel.LeastQueue{}
	}
	return &channel.RoundRobin{}
}
