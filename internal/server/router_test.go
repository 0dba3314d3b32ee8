package server

import (
	"encoding/json"
	"testing"

	"github.com/ammar0144/entity4go/pkg/dataservice"

	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONBinding_KeepsNumbersExact(t *testing.T) {
	var req dataservice.QueryRequest
	raw := `{"where":[{"property":"OrderID","op":"eq","value":9007199254740993}]}`
	require.NoError(t, binding.JSON.BindBody([]byte(raw), &req))

	require.Len(t, req.Where, 1)
	assert.Equal(t, json.Number("9007199254740993"), req.Where[0].Value)

	var bundle dataservice.SaveBundle
	raw = `{"entities":[{"entityTypeName":"Product","entityState":"Modified","values":{"UnitPrice":18.005}}]}`
	require.NoError(t, binding.JSON.BindBody([]byte(raw), &bundle))
	require.Len(t, bundle.Entities, 1)
	assert.Equal(t, json.Number("18.005"), bundle.Entities[0].Values["UnitPrice"])
}
