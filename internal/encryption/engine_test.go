package encryption_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"phiguard/internal/audit"
	auditmemory "phiguard/internal/audit/store/memory"
	"phiguard/internal/encryption"
	"phiguard/internal/keys"
	keymemory "phiguard/internal/keys/store/memory"
)

type EngineSuite struct {
	suite.Suite
	manager *keys.Manager
	engine  *encryption.Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	sealer, err := keys.NewEphemeralSealer()
	s.Require().NoError(err)
	auditLog := audit.New(auditmemory.NewInMemoryStore())
	s.manager = keys.NewManager(keymemory.NewInMemoryStore(), auditLog, sealer)
	s.engine = encryption.New(s.manager)
}

func (s *EngineSuite) TestRoundTrip() {
	ctx := context.Background()
	for _, pt := range [][]byte{
		{},
		[]byte("A"),
		[]byte("Jane Doe, DOB 1970-01-01"),
		bytes.Repeat([]byte{0xff}, 4096),
	} {
		blob, err := s.engine.EncryptField(ctx, pt, "diagnosis")
		s.Require().NoError(err)
		s.Equal(encryption.Algorithm, blob.Algorithm)
		s.Len(blob.IV, encryption.IVSize)
		s.Len(blob.Ciphertext, len(pt)+encryption.TagSize)

		got, err := s.engine.DecryptField(ctx, blob)
		s.Require().NoError(err)
		s.Equal(len(pt), len(got))
		s.True(bytes.Equal(pt, got))
	}
}

func (s *EngineSuite) TestFreshIVPerCall() {
	ctx := context.Background()
	a, err := s.engine.EncryptField(ctx, []byte("same"), "name")
	s.Require().NoError(err)
	b, err := s.engine.EncryptField(ctx, []byte("same"), "name")
	s.Require().NoError(err)
	s.NotEqual(a.IV, b.IV)
	s.NotEqual(a.Ciphertext, b.Ciphertext)
}

func (s *EngineSuite) TestTamperDetection() {
	ctx := context.Background()
	blob, err := s.engine.EncryptField(ctx, []byte("HbA1c 6.1%"), "lab_result")
	s.Require().NoError(err)

	flip := func(b []byte, bit int) []byte {
		out := append([]byte(nil), b...)
		out[bit/8] ^= 1 << (bit % 8)
		return out
	}

	for bit := 0; bit < len(blob.Ciphertext)*8; bit++ {
		tampered := blob
		tampered.Ciphertext = flip(blob.Ciphertext, bit)
		_, err := s.engine.DecryptField(ctx, tampered)
		s.Require().ErrorIs(err, encryption.ErrDecryptionFailure, "ciphertext bit %d", bit)
	}
	for bit := 0; bit < encryption.IVSize*8; bit++ {
		tampered := blob
		tampered.IV = flip(blob.IV, bit)
		_, err := s.engine.DecryptField(ctx, tampered)
		s.Require().ErrorIs(err, encryption.ErrDecryptionFailure, "iv bit %d", bit)
	}

	s.Run("moved to another field", func() {
		moved := blob
		moved.FieldName = "diagnosis"
		_, err := s.engine.DecryptField(ctx, moved)
		s.ErrorIs(err, encryption.ErrDecryptionFailure)
	})

	s.Run("truncated", func() {
		short := blob
		short.Ciphertext = blob.Ciphertext[:encryption.TagSize-1]
		_, err := s.engine.DecryptField(ctx, short)
		s.ErrorIs(err, encryption.ErrDecryptionFailure)
	})

	s.Run("unknown algorithm", func() {
		other := blob
		other.Algorithm = "AES-128-CBC"
		_, err := s.engine.DecryptField(ctx, other)
		s.ErrorIs(err, encryption.ErrDecryptionFailure)
	})
}

func (s *EngineSuite) TestRotationContinuity() {
	ctx := context.Background()
	before, err := s.engine.EncryptField(ctx, []byte("penicillin allergy"), "allergies")
	s.Require().NoError(err)

	newID, err := s.manager.GenerateKey(ctx)
	s.Require().NoError(err)

	got, err := s.engine.DecryptField(ctx, before)
	s.Require().NoError(err)
	s.Equal("penicillin allergy", string(got))

	after, err := s.engine.EncryptField(ctx, []byte("none"), "allergies")
	s.Require().NoError(err)
	s.Equal(newID, after.KeyID)
	s.NotEqual(before.KeyID, after.KeyID)
}

func (s *EngineSuite) TestUnknownKey() {
	ctx := context.Background()
	blob, err := s.engine.EncryptField(ctx, []byte("x"), "f")
	s.Require().NoError(err)
	blob.KeyID = "no-such-key"

	_, err = s.engine.DecryptField(ctx, blob)
	s.ErrorIs(err, encryption.ErrDecryptionFailure)
	s.ErrorIs(err, keys.ErrKeyNotFound)
}

func (s *EngineSuite) TestRecord() {
	ctx := context.Background()
	record := encryption.Record{
		"name":      "Jane Doe",
		"scan":      []byte{0x01, 0x02},
		"age":       52,
		"clinic":    "North",
		"emergency": nil,
	}

	enc, meta, err := s.engine.EncryptRecord(ctx, record, []string{"name", "scan", "emergency", "missing"})
	s.Require().NoError(err)
	s.Require().Len(meta, 2)
	s.Equal("name", meta[0].FieldName)
	s.Equal(encryption.KindString, meta[0].Kind)
	s.Equal(encryption.KindBytes, meta[1].Kind)

	s.IsType(encryption.EncryptedBlob{}, enc["name"])
	s.IsType(encryption.EncryptedBlob{}, enc["scan"])
	s.Equal(52, enc["age"])
	s.Equal("North", enc["clinic"])
	s.Nil(enc["emergency"])
	s.Equal("Jane Doe", record["name"], "input record is untouched")

	dec, err := s.engine.DecryptRecord(ctx, enc, meta)
	s.Require().NoError(err)
	s.Equal(record, dec)
}

func (s *EngineSuite) TestRecordRejectsUnsupportedType() {
	_, _, err := s.engine.EncryptRecord(context.Background(), encryption.Record{"age": 52}, []string{"age"})
	s.ErrorIs(err, encryption.ErrEncryptionFailure)
}

func (s *EngineSuite) TestDecryptRecordRejectsMismatchedMetadata() {
	ctx := context.Background()
	enc, meta, err := s.engine.EncryptRecord(ctx, encryption.Record{"name": "x", "notes": "y"}, []string{"name", "notes"})
	s.Require().NoError(err)
	enc["name"], enc["notes"] = enc["notes"], enc["name"]

	_, err = s.engine.DecryptRecord(ctx, enc, meta)
	s.ErrorIs(err, encryption.ErrDecryptionFailure)
}
