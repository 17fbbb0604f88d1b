// Copyright (c) Microsoft Corporation. All rights reserved.

package concurrency

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOneTimeJobOnlyOneWinner(t *testing.T) {
	t.Parallel()

	job := NewOneTimeJob[int]()
	require.False(t, job.IsDone())

	require.True(t, job.TryTake())
	require.False(t, job.TryTake())

	job.Complete(42)
	require.True(t, job.IsDone())
	require.Equal(t, 42, job.WaitResult())
}

func TestOneTimeJobWaitersBlockUntilComplete(t *testing.T) {
	t.Parallel()

	job := NewOneTimeJob[string]()
	require.True(t, job.TryTake())

	results := make(chan string, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- job.WaitResult()
		}()
	}

	select {
	case <-job.Done():
		require.Fail(t, "job reported done before Complete was called")
	default:
	}

	job.Complete("done")
	require.Equal(t, "done", <-results)
	require.Equal(t, "done", <-results)
}

func TestOneTimeJobCompleteBeforeTakePanics(t *testing.T) {
	t.Parallel()

	job := NewOneTimeJob[int]()
	require.Panics(t, func() { job.Complete(1) })
}

func TestOneTimeJobDoubleCompletePanics(t *testing.T) {
	t.Parallel()

	job := NewOneTimeJob[int]()
	job.TryTake()
	job.Complete(1)
	require.Panics(t, func() { job.Complete(2) })
}
