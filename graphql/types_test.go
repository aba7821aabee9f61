package graphql

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseHelpers(t *testing.T) {
	t.Run("nil response", func(t *testing.T) {
		var r *Response
		assert.False(t, r.HasErrors())
		assert.Nil(t, r.FirstError())
		assert.Empty(t, r.ErrorCode())
		assert.Empty(t, r.ErrorMessage())
	})

	t.Run("no errors", func(t *testing.T) {
		r := &Response{Data: json.RawMessage(`{}`)}
		assert.False(t, r.HasErrors())
		assert.Nil(t, r.FirstError())
	})

	t.Run("err takes precedence over auth-code", func(t *testing.T) {
		r := &Response{Errors: []ResponseError{{
			Message: "bad credentials",
			Data:    ErrorData{Err: "60091", AuthCode: "10001"},
		}}}
		assert.Equal(t, "60091", r.ErrorCode())
	})

	t.Run("auth-code fallback", func(t *testing.T) {
		r := &Response{Errors: []ResponseError{{
			Message: "otp required",
			Data:    ErrorData{AuthCode: "10001", AuthType: "OTP"},
		}}}
		assert.Equal(t, CodeOTPRequired, r.ErrorCode())
	})
}

func TestErrorDataDecoding(t *testing.T) {
	raw := `{
		"errors": [
			{
				"message": "Unauthorized device",
				"data": {
					"auth-code": "10001",
					"auth-type": "OTP",
					"auth-phones": [
						{"id": 0, "phone": "**********975"},
						{"id": 1, "phone": "**********123"}
					],
					"auth-otp-hash": "hash-value"
				}
			}
		]
	}`

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	require.True(t, resp.HasErrors())

	data := resp.FirstError().Data
	assert.Equal(t, CodeOTPRequired, data.AuthCode)
	assert.Equal(t, AuthTypeOTP, data.AuthType)
	assert.Equal(t, "hash-value", data.AuthOTPHash)
	require.Len(t, data.AuthPhones, 2)
	assert.Equal(t, 0, data.AuthPhones[0].ID)
	assert.Equal(t, "**********975", data.AuthPhones[0].Phone)
	assert.Equal(t, 1, data.AuthPhones[1].ID)
}

func TestDecodeData(t *testing.T) {
	resp := &Response{Data: json.RawMessage(`{"xSLoginToken":{"res":"OK","hash":"abc"}}`)}

	var data struct {
		Login struct {
			Res  string `json:"res"`
			Hash string `json:"hash"`
		} `json:"xSLoginToken"`
	}
	require.NoError(t, resp.DecodeData(&data))
	assert.Equal(t, "OK", data.Login.Res)
	assert.Equal(t, "abc", data.Login.Hash)

	empty := &Response{}
	assert.Error(t, empty.DecodeData(&data))
}

func TestRequestMarshal(t *testing.T) {
	req := &Request{
		Op:    OpSendOTP,
		Query: SendOTPMutation,
		Variables: map[string]any{
			"recordId": 0,
			"otpHash":  "hash",
		},
		Security: &Security{Token: "123456", Type: "OTP", OTPHash: "hash"},
	}

	b, err := json.Marshal(req)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(b, &wire))
	assert.Contains(t, wire, "query")
	assert.Contains(t, wire, "variables")
	// Op and Security ride in headers, never in the body.
	assert.NotContains(t, wire, "Op")
	assert.NotContains(t, wire, "Security")
}

func TestBodyPreview(t *testing.T) {
	assert.Equal(t, "short", bodyPreview([]byte("  short \n")))

	long := strings.Repeat("x", errorBodyPreviewLen+50)
	got := bodyPreview([]byte(long))
	assert.Len(t, got, errorBodyPreviewLen+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}
