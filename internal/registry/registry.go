package registry

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/neutron-org/deposit-relayer/internal/relay"
)

// RegistryConfig represents the config structure for the Registry.
type RegistryConfig struct {
	Depositors []string
	Recipients []string
}

// New instantiates a new *Registry based on the cfg.
func New(cfg *RegistryConfig) *Registry {
	r := &Registry{
		depositors: make(map[common.Address]struct{}, len(cfg.Depositors)),
		recipients: make(map[common.Hash]struct{}, len(cfg.Recipients)),
	}
	for _, addr := range cfg.Depositors {
		r.depositors[common.HexToAddress(addr)] = struct{}{}
	}
	for _, addr := range cfg.Recipients {
		r.recipients[common.HexToHash(addr)] = struct{}{}
	}
	return r
}

// Registry is the relayer's watch list registry. When a list is not empty, the relayer only
// relays deposits made by the listed depositors or to the listed destination recipients.
type Registry struct {
	depositors map[common.Address]struct{}
	recipients map[common.Hash]struct{}
}

// IsEmpty returns true if both lists are empty.
func (r *Registry) IsEmpty() bool {
	return len(r.depositors) == 0 && len(r.recipients) == 0
}

// ContainsDepositor returns true if the addr is in the registry.
func (r *Registry) ContainsDepositor(addr common.Address) bool {
	_, ex := r.depositors[addr]
	return ex
}

// ContainsRecipient returns true if the destination account is in the registry.
func (r *Registry) ContainsRecipient(recipient common.Hash) bool {
	_, ex := r.recipients[recipient]
	return ex
}

// Allows reports whether the event passes both lists. An empty list does not filter.
func (r *Registry) Allows(ev relay.DepositEvent) bool {
	if len(r.depositors) > 0 && !r.ContainsDepositor(ev.Depositor) {
		return false
	}
	if len(r.recipients) > 0 && !r.ContainsRecipient(ev.Recipient) {
		return false
	}
	return true
}

func (r *Registry) GetDepositors() []string {
	var out []string
	for addr := range r.depositors {
		out = append(out, addr.Hex())
	}

	return out
}
