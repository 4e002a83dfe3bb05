package call_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kfir-abbou/Dapr/pkg/util/call"
)

func TestPerform(t *testing.T) {
	t.Run("runs calls in order", func(t *testing.T) {
		var order []int

		err := call.Perform(
			func() error {
				order = append(order, 1)
				return nil
			},
			func() error {
				order = append(order, 2)
				return nil
			},
		)

		assert.NoError(t, err)
		assert.Equal(t, []int{1, 2}, order)
	})

	t.Run("stops on first error", func(t *testing.T) {
		want := errors.New("boom")
		var order []int

		err := call.Perform(
			func() error {
				order = append(order, 1)
				return nil
			},
			func() error {
				order = append(order, 2)
				return want
			},
			func() error {
				order = append(order, 3)
				return nil
			},
		)

		assert.Equal(t, want, err)
		assert.Equal(t, []int{1, 2}, order)
	})
}

func TestWithArgs(t *testing.T) {
	var got string

	err := call.WithArgs(func(a, b string) error {
		got = a + b
		return nil
	}, "foo", "bar")()

	assert.NoError(t, err)
	assert.Equal(t, "foobar", got)
}

func TestNotify(t *testing.T) {
	var order []int
	var failed []int
	boom := errors.New("boom")

	call.Notify(
		func(i int, err error) {
			assert.Equal(t, boom, err)
			failed = append(failed, i)
		},
		func() error {
			order = append(order, 0)
			return boom
		},
		func() error {
			order = append(order, 1)
			return nil
		},
		func() error {
			order = append(order, 2)
			return boom
		},
	)

	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, []int{0, 2}, failed)
}
