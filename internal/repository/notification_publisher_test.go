package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/lab-result-api/internal/models"
)

func TestRedisNotificationPublisherWithoutClientDrops(t *testing.T) {
	publisher := NewRedisNotificationPublisher(nil, "lab:results:notifications")
	err := publisher.Publish(context.Background(), models.ResultNotification{ID: "n-1", Type: models.NotificationResultFinalized})
	assert.NoError(t, err)
}
