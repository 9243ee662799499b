package channel

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeEntry(t *testing.T) {
	values, err := encodeValues(Message{
		Attributes: map[string]string{"PackageID": "etd_12", "SubmissionSource": "ETD"},
		Body:       []byte(`{"ResultType":"success"}`),
	})
	require.NoError(t, err)

	msg := decodeEntry(redis.XMessage{ID: "1-0", Values: values})
	assert.Equal(t, "1-0", msg.ID)
	assert.Equal(t, "etd_12", msg.Attribute("PackageID"))
	assert.Equal(t, "ETD", msg.Attribute("SubmissionSource"))
	assert.JSONEq(t, `{"ResultType":"success"}`, string(msg.Body))
}

func TestDecodeEntryMalformedAttributes(t *testing.T) {
	msg := decodeEntry(redis.XMessage{ID: "2-0", Values: map[string]interface{}{
		"attributes": "{not json",
		"body":       "x",
	}})
	assert.Nil(t, msg.Attributes)
	assert.Equal(t, "", msg.Attribute("PackageID"))
	assert.Equal(t, []byte("x"), msg.Body)
}

func TestEncodeValuesNilAttributes(t *testing.T) {
	values, err := encodeValues(Message{Body: []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, "{}", values["attributes"])
}
