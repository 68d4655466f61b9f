package kafka_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/kafka"
	"github.com/honeynil/LeadMarketplace/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSettlement(t *testing.T) {
	id := uuid.New()

	event, err := kafka.DecodeSettlement([]byte(`{"payment_id":"` + id.String() + `","status":"completed","gateway_ref":"pi_1"}`))
	require.NoError(t, err)
	assert.Equal(t, id, event.PaymentID)
	assert.Equal(t, models.PaymentCompleted, event.Status)
	assert.Equal(t, "pi_1", event.GatewayRef)

	_, err = kafka.DecodeSettlement([]byte(`{"payment_id":"` + id.String() + `","status":"processing"}`))
	assert.Error(t, err)

	_, err = kafka.DecodeSettlement([]byte(`{"status":"failed"}`))
	assert.Error(t, err)

	_, err = kafka.DecodeSettlement([]byte(`not json`))
	assert.Error(t, err)
}
