package cosmwasm

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Type URLs of the protobuf messages the keeper signs.
const (
	typeURLExecuteContract = "/cosmwasm.wasm.v1.MsgExecuteContract"
	typeURLSecp256k1PubKey = "/cosmos.crypto.secp256k1.PubKey"
	signModeDirect         = 1
)

// Coin is an sdk.Coin.
type Coin struct {
	Denom  string
	Amount string
}

// ExecuteContractMsg is a cosmwasm.wasm.v1.MsgExecuteContract.
type ExecuteContractMsg struct {
	Sender   string
	Contract string
	Msg      []byte
	Funds    []Coin
}

// Fee is a cosmos.tx.v1beta1.Fee.
type Fee struct {
	Amount   []Coin
	GasLimit uint64
}

// The encoders below write proto3 wire format by hand. Field numbers follow
// the cosmos-sdk and wasmd .proto definitions; zero values are omitted as
// proto3 requires so the bytes match what the chain re-encodes when checking
// SIGN_MODE_DIRECT signatures.

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendMessage writes an embedded message even when it is empty.
func appendMessage(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendUvarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func encodeCoin(c Coin) []byte {
	var b []byte
	b = appendString(b, 1, c.Denom)
	b = appendString(b, 2, c.Amount)
	return b
}

func encodeAny(typeURL string, value []byte) []byte {
	var b []byte
	b = appendString(b, 1, typeURL)
	b = appendBytes(b, 2, value)
	return b
}

func encodeExecuteContract(m ExecuteContractMsg) []byte {
	var b []byte
	b = appendString(b, 1, m.Sender)
	b = appendString(b, 2, m.Contract)
	b = appendBytes(b, 3, m.Msg)
	for _, c := range m.Funds {
		b = appendMessage(b, 5, encodeCoin(c))
	}
	return b
}

func encodeTxBody(msgs []ExecuteContractMsg, memo string, timeoutHeight uint64) []byte {
	var b []byte
	for _, m := range msgs {
		b = appendMessage(b, 1, encodeAny(typeURLExecuteContract, encodeExecuteContract(m)))
	}
	b = appendString(b, 2, memo)
	b = appendUvarint(b, 3, timeoutHeight)
	return b
}

func encodePubKey(pub []byte) []byte {
	return encodeAny(typeURLSecp256k1PubKey, appendBytes(nil, 1, pub))
}

func encodeSignerInfo(pub []byte, sequence uint64) []byte {
	single := appendUvarint(nil, 1, signModeDirect)
	modeInfo := appendMessage(nil, 1, single)

	var b []byte
	b = appendMessage(b, 1, encodePubKey(pub))
	b = appendMessage(b, 2, modeInfo)
	b = appendUvarint(b, 3, sequence)
	return b
}

func encodeFee(f Fee) []byte {
	var b []byte
	for _, c := range f.Amount {
		b = appendMessage(b, 1, encodeCoin(c))
	}
	b = appendUvarint(b, 2, f.GasLimit)
	return b
}

func encodeAuthInfo(pub []byte, sequence uint64, fee Fee) []byte {
	var b []byte
	b = appendMessage(b, 1, encodeSignerInfo(pub, sequence))
	b = appendMessage(b, 2, encodeFee(fee))
	return b
}

func encodeSignDoc(body, authInfo []byte, chainID string, accountNumber uint64) []byte {
	var b []byte
	b = appendBytes(b, 1, body)
	b = appendBytes(b, 2, authInfo)
	b = appendString(b, 3, chainID)
	b = appendUvarint(b, 4, accountNumber)
	return b
}

func encodeTxRaw(body, authInfo []byte, signatures ...[]byte) []byte {
	var b []byte
	b = appendBytes(b, 1, body)
	b = appendBytes(b, 2, authInfo)
	for _, sig := range signatures {
		b = appendMessage(b, 3, sig)
	}
	return b
}
