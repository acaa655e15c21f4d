package proof

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
)

// EncodingRLPv1 is RLP([header, [node0, node1, ...], txIndex]) where header is the RLP header
// list, every node is the RLP node list ordered from root to leaf and txIndex is an RLP
// unsigned integer.
const EncodingRLPv1 = "rlp-v1"

// ReceiptProof proves a receipt is included in a source block.
type ReceiptProof struct {
	Header  []byte
	Branch  [][]byte
	TxIndex uint64

	BlockHash    common.Hash
	ReceiptsRoot common.Hash
}

type encodedProof struct {
	Header  rlp.RawValue
	Branch  []rlp.RawValue
	TxIndex uint64
}

func (p *ReceiptProof) Encode() ([]byte, error) {
	enc := encodedProof{
		Header:  p.Header,
		Branch:  make([]rlp.RawValue, len(p.Branch)),
		TxIndex: p.TxIndex,
	}
	for i, node := range p.Branch {
		enc.Branch[i] = node
	}

	data, err := rlp.EncodeToBytes(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to rlp encode receipt proof: %w", err)
	}
	return data, nil
}

// Decode parses an rlp-v1 proof.
func Decode(data []byte) (*ReceiptProof, error) {
	var enc encodedProof
	if err := rlp.DecodeBytes(data, &enc); err != nil {
		return nil, fmt.Errorf("failed to rlp decode receipt proof: %w", err)
	}

	var header types.Header
	if err := rlp.DecodeBytes(enc.Header, &header); err != nil {
		return nil, fmt.Errorf("failed to decode block header: %w", err)
	}

	p := &ReceiptProof{
		Header:       enc.Header,
		Branch:       make([][]byte, len(enc.Branch)),
		TxIndex:      enc.TxIndex,
		BlockHash:    header.Hash(),
		ReceiptsRoot: header.ReceiptHash,
	}
	for i, node := range enc.Branch {
		p.Branch[i] = node
	}
	return p, nil
}

// Verify checks the branch against the header's receipts root and returns the proven receipt
// in its consensus encoding.
func (p *ReceiptProof) Verify() ([]byte, error) {
	if len(p.Branch) == 0 {
		return nil, errors.New("empty proof branch")
	}

	db := memorydb.New()
	for _, node := range p.Branch {
		if err := db.Put(crypto.Keccak256(node), node); err != nil {
			return nil, fmt.Errorf("failed to load proof node: %w", err)
		}
	}

	value, err := trie.VerifyProof(p.ReceiptsRoot, receiptKey(p.TxIndex), db)
	if err != nil {
		return nil, fmt.Errorf("failed to verify receipt proof: %w", err)
	}
	if value == nil {
		return nil, fmt.Errorf("receipt %d is absent from the trie", p.TxIndex)
	}
	return value, nil
}

// VerifyEncoded decodes an rlp-v1 proof and verifies it.
func VerifyEncoded(data []byte) (*ReceiptProof, []byte, error) {
	p, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}
	receipt, err := p.Verify()
	if err != nil {
		return nil, nil, err
	}
	return p, receipt, nil
}

func receiptKey(index uint64) []byte {
	return rlp.AppendUint64(nil, index)
}
