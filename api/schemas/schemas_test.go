package schemas_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
)

// -- Test Cases --

func TestEntityKind(t *testing.T) {
	t.Parallel()

	t.Run("parses label and wire forms", func(t *testing.T) {
		for _, in := range []string{"IP", "ip", "Ip"} {
			k, err := schemas.ParseEntityKind(in)
			require.NoError(t, err)
			assert.Equal(t, schemas.KindIP, k)
		}
		k, err := schemas.ParseEntityKind("organization")
		require.NoError(t, err)
		assert.Equal(t, schemas.KindOrganization, k)
	})

	t.Run("rejects unknown kinds", func(t *testing.T) {
		_, err := schemas.ParseEntityKind("Spaceship")
		assert.Error(t, err)
		assert.False(t, schemas.EntityKind("Spaceship").Valid())
	})

	t.Run("wire name is lowercase", func(t *testing.T) {
		assert.Equal(t, "domain", schemas.KindDomain.WireName())
		assert.Equal(t, "scanjob", schemas.KindScanJob.WireName())
	})
}

func TestProperties(t *testing.T) {
	t.Parallel()

	props := schemas.Properties{
		"address":      "a@b.test",
		"breach_count": float64(3),
		"int_count":    7,
		"json_num":     json.Number("12.5"),
		"is_proxy":     true,
		"is_hosting":   "false",
		"risk_reasons": []interface{}{"breached", 4, "disposable"},
		"null_field":   nil,
		"count_text":   " 4 ",
		"nan_text":     "NaN",
	}

	s, ok := props.String("address")
	assert.True(t, ok)
	assert.Equal(t, "a@b.test", s)
	_, ok = props.String("breach_count")
	assert.False(t, ok)

	n, ok := props.Number("breach_count")
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)
	n, ok = props.Number("int_count")
	assert.True(t, ok)
	assert.Equal(t, 7.0, n)
	n, ok = props.Number("json_num")
	assert.True(t, ok)
	assert.Equal(t, 12.5, n)
	_, ok = props.Number("address")
	assert.False(t, ok)
	n, ok = props.Number("count_text")
	assert.True(t, ok)
	assert.Equal(t, 4.0, n)
	_, ok = props.Number("nan_text")
	assert.False(t, ok)

	b, ok := props.Bool("is_proxy")
	assert.True(t, ok)
	assert.True(t, b)
	b, ok = props.Bool("is_hosting")
	assert.True(t, ok)
	assert.False(t, b)

	assert.Equal(t, []string{"breached", "disposable"}, props.Strings("risk_reasons"))
	assert.True(t, props.Has("address"))
	assert.False(t, props.Has("null_field"))
	assert.False(t, props.Has("missing"))
}

func TestEntityClone(t *testing.T) {
	t.Parallel()

	original := schemas.Entity{
		ID:   "n1",
		Kind: schemas.KindDomain,
		Properties: schemas.Properties{
			"name":    "evil.test",
			"records": []interface{}{"1.2.3.4"},
			"whois":   map[string]interface{}{"registrar": "NameCheap"},
		},
	}
	clone := original.Clone()
	clone.Properties["name"] = "changed"
	clone.Properties["records"].([]interface{})[0] = "5.6.7.8"
	clone.Properties["whois"].(map[string]interface{})["registrar"] = "Other"

	assert.Equal(t, "evil.test", original.Properties["name"])
	assert.Equal(t, "1.2.3.4", original.Properties["records"].([]interface{})[0])
	assert.Equal(t, "NameCheap", original.Properties["whois"].(map[string]interface{})["registrar"])
}

func TestEntityCaption(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a@b.test", schemas.Entity{Kind: schemas.KindEmail, Properties: schemas.Properties{"address": "a@b.test", "name": "x"}}.Caption())
	assert.Equal(t, "evil.test", schemas.Entity{Kind: schemas.KindDomain, Properties: schemas.Properties{"address": "", "name": "evil.test"}}.Caption())
	assert.Equal(t, "Breach", schemas.Entity{Kind: schemas.KindBreach}.Caption())
}

func TestEntityWireFormat(t *testing.T) {
	t.Parallel()

	raw := `{"id":"4:abc:1","label":"IP","properties":{"address":"1.2.3.4","asn":15169},"unexpected":"ignored"}`
	var e schemas.Entity
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.Equal(t, "4:abc:1", e.ID)
	assert.Equal(t, schemas.KindIP, e.Kind)
	n, ok := e.Properties.Number("asn")
	assert.True(t, ok)
	assert.Equal(t, 15169.0, n)

	rel := schemas.Relationship{Source: "a", Target: "b", Type: schemas.RelationshipResolvesTo}
	assert.Equal(t, schemas.EdgeKey{Source: "a", Target: "b", Type: "RESOLVES_TO"}, rel.Key())
	assert.Equal(t, "a-[RESOLVES_TO]->b", rel.Key().String())
}

func TestJob(t *testing.T) {
	t.Parallel()

	t.Run("terminal statuses", func(t *testing.T) {
		assert.False(t, schemas.JobPending.Terminal())
		assert.False(t, schemas.JobRunning.Terminal())
		assert.True(t, schemas.JobCompleted.Terminal())
		assert.True(t, schemas.JobPartial.Terminal())
		assert.True(t, schemas.JobFailed.Terminal())
	})

	t.Run("progress is bounded", func(t *testing.T) {
		assert.Equal(t, 0.0, schemas.Job{}.Progress())
		assert.Equal(t, 0.5, schemas.Job{TotalTasks: 4, CompletedTasks: 2}.Progress())
		assert.Equal(t, 1.0, schemas.Job{TotalTasks: 2, CompletedTasks: 5}.Progress())
	})

	t.Run("decodes backend timestamps", func(t *testing.T) {
		raw := `{"id":"j1","query":"evil.test","entity_type":"domain","status":"running",
			"created_at":"2025-10-26T10:00:00.123456","completed_at":null,"total_tasks":3,"completed_tasks":1}`
		var job schemas.Job
		require.NoError(t, json.Unmarshal([]byte(raw), &job))
		assert.Equal(t, schemas.JobRunning, job.Status)
		assert.Equal(t, time.Date(2025, 10, 26, 10, 0, 0, 123456000, time.UTC), job.CreatedAt.Time)
		assert.True(t, job.CompletedAt.IsZero())
	})
}

func TestTimestamp(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected time.Time
		wantErr  bool
	}{
		{"rfc3339", `"2025-01-02T03:04:05Z"`, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"zoned offset", `"2025-01-02T05:04:05+02:00"`, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"space separated", `"2025-01-02 03:04:05"`, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"epoch millis", `1735787045000`, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"null", `null`, time.Time{}, false},
		{"garbage", `"yesterday"`, time.Time{}, true},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var ts schemas.Timestamp
			err := ts.UnmarshalJSON([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(ts.Time), "got %s", ts.Time)
		})
	}

	t.Run("zero marshals to null", func(t *testing.T) {
		out, err := json.Marshal(schemas.Timestamp{})
		require.NoError(t, err)
		assert.Equal(t, "null", string(out))
	})
}

func TestPivotAvailability(t *testing.T) {
	t.Parallel()

	assert.ElementsMatch(t,
		[]schemas.PivotKind{schemas.PivotRelatedDomains, schemas.PivotRelatedIPs, schemas.PivotRelatedEmails, schemas.PivotHostedBySameIP, schemas.PivotSameRegistrar},
		schemas.AvailablePivots(schemas.KindDomain))
	assert.ElementsMatch(t,
		[]schemas.PivotKind{schemas.PivotRelatedDomains, schemas.PivotRelatedIPs, schemas.PivotRelatedEmails, schemas.PivotSameASN},
		schemas.AvailablePivots(schemas.KindIP))

	assert.True(t, schemas.PivotSameRegistrar.ValidFor(schemas.KindDomain))
	assert.False(t, schemas.PivotSameRegistrar.ValidFor(schemas.KindIP))
	assert.False(t, schemas.PivotSameASN.ValidFor(schemas.KindEmail))
	assert.True(t, schemas.PivotRelatedEmails.ValidFor(schemas.KindPerson))
	assert.False(t, schemas.PivotKind("bogus").ValidFor(schemas.KindDomain))

	assert.Equal(t, 1, schemas.ClampDepth(0))
	assert.Equal(t, 2, schemas.ClampDepth(2))
	assert.Equal(t, 3, schemas.ClampDepth(10))
}

func TestPivotResultDecoding(t *testing.T) {
	t.Parallel()

	raw := `{"success":true,"pivot_type":"same_registrar","entity_count":1,
		"entities":[{"id":"dom-2","label":"Domain","properties":{"name":"evil.test"},"relationship":"REGISTERED_WITH"}]}`
	var res schemas.PivotResult
	require.NoError(t, json.Unmarshal([]byte(raw), &res))
	require.NoError(t, res.Err())
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "dom-2", res.Entities[0].ID)
	assert.Equal(t, schemas.KindDomain, res.Entities[0].Kind)
	assert.Equal(t, "REGISTERED_WITH", res.Entities[0].Relationship)

	failed := schemas.PivotResult{PivotType: schemas.PivotSameASN, Message: "no asn"}
	assert.EqualError(t, failed.Err(), "pivot same_asn unsuccessful: no asn")
}

func TestDecodeDetails(t *testing.T) {
	t.Parallel()

	t.Run("email variant", func(t *testing.T) {
		d, err := schemas.DecodeDetails(schemas.Entity{Kind: schemas.KindEmail, Properties: schemas.Properties{
			"address": "a@b.test", "breach_count": 2, "score": 40.0, "provider": "hibp",
		}})
		require.NoError(t, err)
		email, ok := d.(schemas.EmailDetails)
		require.True(t, ok)
		assert.Equal(t, "a@b.test", email.Address)
		require.NotNil(t, email.BreachCount)
		assert.Equal(t, 2.0, *email.BreachCount)
		require.NotNil(t, email.Score)
		assert.Nil(t, email.Deliverable)
		assert.Equal(t, "hibp", email.Unknown()["provider"])
	})

	t.Run("mistyped fields move to extra", func(t *testing.T) {
		d, err := schemas.DecodeDetails(schemas.Entity{Kind: schemas.KindIP, Properties: schemas.Properties{
			"is_proxy": "definitely", "is_hosting": true, "country": nil,
		}})
		require.NoError(t, err)
		ip := d.(schemas.IPDetails)
		assert.Nil(t, ip.IsProxy)
		require.NotNil(t, ip.IsHosting)
		assert.True(t, *ip.IsHosting)
		assert.Equal(t, "definitely", ip.Extra["raw_is_proxy"])
		assert.Empty(t, ip.Country)
	})

	t.Run("generic variant keeps the kind", func(t *testing.T) {
		d, err := schemas.DecodeDetails(schemas.Entity{Kind: schemas.KindPerson, Properties: schemas.Properties{"name": "J. Doe"}})
		require.NoError(t, err)
		assert.Equal(t, schemas.KindPerson, d.Kind())
		assert.Equal(t, "J. Doe", d.(schemas.GenericDetails).Name)
	})
}

func TestAttachable(t *testing.T) {
	t.Parallel()
	assert.True(t, schemas.Attachable(schemas.KindEmail))
	assert.True(t, schemas.Attachable(schemas.KindIP))
	assert.False(t, schemas.Attachable(schemas.KindBreach))
}
