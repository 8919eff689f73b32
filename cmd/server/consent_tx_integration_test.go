//go:build integration

package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	consentservice "phiguard/internal/consent/service"
	consentstore "phiguard/internal/consent/store/postgres"
	"phiguard/pkg/testutil/containers"
)

// holdTx runs a transaction for subject that stays open until release closes.
func holdTx(t *testing.T, tx *consentPostgresTx, subject string, entered chan<- struct{}, release <-chan struct{}) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		ctx := consentservice.WithTxSubject(context.Background(), subject)
		done <- tx.RunInTx(ctx, func(consentservice.Store) error {
			entered <- struct{}{}
			<-release
			return nil
		})
	}()
	return done
}

func TestConsentTxSerializesPerSubject(t *testing.T) {
	pg := containers.NewPostgresContainer(t, consentstore.Schema)
	tx := newConsentPostgresTx(pg.DB)

	firstIn := make(chan struct{}, 1)
	secondIn := make(chan struct{}, 1)
	otherIn := make(chan struct{}, 1)
	releaseFirst := make(chan struct{})
	releaseRest := make(chan struct{})
	defer close(releaseRest)

	first := holdTx(t, tx, "patient-1", firstIn, releaseFirst)
	select {
	case <-firstIn:
	case <-time.After(5 * time.Second):
		t.Fatal("first transaction never started")
	}

	second := holdTx(t, tx, "patient-1", secondIn, releaseRest)
	other := holdTx(t, tx, "patient-2", otherIn, releaseRest)

	select {
	case <-otherIn:
	case <-time.After(5 * time.Second):
		t.Fatal("a different subject was blocked")
	}
	select {
	case <-secondIn:
		t.Fatal("second writer for the same subject ran concurrently")
	case <-time.After(300 * time.Millisecond):
	}

	close(releaseFirst)
	require.NoError(t, <-first)
	select {
	case <-secondIn:
	case <-time.After(5 * time.Second):
		t.Fatal("second writer never acquired the subject lock")
	}

	releaseRest <- struct{}{}
	releaseRest <- struct{}{}
	require.NoError(t, <-second)
	require.NoError(t, <-other)
}
