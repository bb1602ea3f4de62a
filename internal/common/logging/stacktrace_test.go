package logging

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
)

func TestWithStacktrace(t *testing.T) {
	entry := logrus.NewEntry(NullLogger)

	plain := WithStacktrace(entry, errPlain{})
	assert.NotContains(t, plain.Data, StacktraceField)
	assert.Equal(t, errPlain{}, plain.Data[logrus.ErrorKey])

	wrapped := WithStacktrace(entry, errors.Wrap(errors.New("boom"), "submitting job"))
	assert.Contains(t, wrapped.Data, StacktraceField)
}

func TestExtractStack(t *testing.T) {
	assert.Nil(t, ExtractStack(errPlain{}))
	assert.NotNil(t, ExtractStack(errors.WithMessage(errors.New("boom"), "context")))
	assert.NotNil(t, ExtractStack(&benchmarkerrors.ErrTransport{Err: errors.New("connection refused")}))
}

func TestCommandLineFormatter(t *testing.T) {
	out, err := (&CommandLineFormatter{}).Format(&logrus.Entry{Message: "12 jobs planned"})
	assert.NoError(t, err)
	assert.Equal(t, "12 jobs planned\n", string(out))
}

type errPlain struct{}

func (errPlain) Error() string { return "plain" }
