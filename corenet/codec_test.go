package corenet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corechain/corenet/common"
)

func sampleHandshake() *Message {
	return &Message{
		Tag: TagHandshake,
		Handshake: &Handshake{
			NetworkVersion:      1,
			ChainID:             common.BytesToHash([]byte("chain")),
			NodeID:              common.BytesToHash([]byte("node")),
			PubKey:              common.PubKey{1, 2, 3},
			Timestamp:           1234567,
			Token:               common.BytesToHash([]byte("token")),
			Signature:           common.Signature{4, 5, 6},
			P2PAddress:          "127.0.0.1:9876",
			LastIrreversibleNum: 10,
			LastIrreversibleID:  common.BytesToHash([]byte("lib")),
			HeadNum:             20,
			HeadID:              common.BytesToHash([]byte("head")),
			OS:                  "linux",
			Agent:               "corenetd",
			Generation:          3,
		},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	c := &Codec{}
	cases := []*Message{
		sampleHandshake(),
		{Tag: TagChainSize, ChainSize: &ChainSize{LastIrreversibleNum: 1, HeadNum: 2}},
		{Tag: TagGoAway, GoAway: &GoAway{Reason: GoAwayWrongChain, NodeID: common.BytesToHash([]byte("n"))}},
		{Tag: TagTime, Time: &TimeMessage{Org: 1, Rec: 2, Xmt: 3, Dst: 4}},
		{Tag: TagNotice, Notice: &Notice{
			KnownTrx:    SelectIDs{Mode: ModeNormal, IDs: []common.Hash{common.BytesToHash([]byte("t1"))}},
			KnownBlocks: SelectIDs{Mode: ModeCatchUp, Pending: 5},
		}},
		{Tag: TagNotice, Notice: &Notice{
			KnownTrx:  SelectIDs{Mode: ModeNone},
			Endpoints: []string{"127.0.0.1:9876", "10.0.0.5:9877"},
		}},
		{Tag: TagRequest, Request: &Request{
			ReqTrx:    SelectIDs{Mode: ModeNormal, IDs: []common.Hash{common.BytesToHash([]byte("t2"))}},
			ReqBlocks: SelectIDs{Mode: ModeNone},
		}},
		{Tag: TagSyncRequest, SyncRequest: &SyncRequest{StartBlock: 5, EndBlock: 105}},
		{Tag: TagSignedBlock, SignedBlock: &SignedBlock{ID: common.BytesToHash([]byte("b")), Number: 7, Payload: []byte("block-bytes")}},
		{Tag: TagPackedTransaction, PackedTransaction: &PackedTransaction{ID: common.BytesToHash([]byte("tx")), Payload: []byte("tx-bytes")}},
	}

	for _, msg := range cases {
		frame, err := c.Encode(msg)
		require.NoError(t, err)
		length := frame[:4]
		body := frame[4:]
		require.Equal(t, len(body), int(lePut(length)))
		decoded, err := c.DecodeFrame(body)
		require.NoError(t, err)
		require.Equal(t, msg, decoded)
	}
}

func lePut(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func TestFrameBoundRejectsOversize(t *testing.T) {
	c := &Codec{FrameCap: 16}
	msg := sampleHandshake()
	_, err := c.Encode(msg)
	require.Error(t, err)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, ErrProtocol, cerr.Kind)
}

func TestValidateFrameLengthRejectsOversize(t *testing.T) {
	c := &Codec{FrameCap: 1024}
	require.NoError(t, c.ValidateFrameLength(1024))
	require.Error(t, c.ValidateFrameLength(1025))
}

func TestDecodeFrameRejectsUnknownTag(t *testing.T) {
	c := &Codec{}
	_, err := c.DecodeFrame([]byte{200})
	require.Error(t, err)
}

func TestDecodeFrameRejectsShortRead(t *testing.T) {
	c := &Codec{}
	_, err := c.DecodeFrame([]byte{byte(TagChainSize), 0, 0})
	require.Error(t, err)
}
