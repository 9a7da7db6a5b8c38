package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type notice struct {
	EntryID string `json:"entry_id"`
}

func (n notice) Attributes() map[string]string {
	return map[string]string{"entry_id": n.EntryID}
}

func fakeServer(t *testing.T) (*pstest.Server, option.ClientOption) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, option.WithGRPCConn(conn)
}

func TestOpenPublishAndClose(t *testing.T) {
	ctx := context.Background()
	srv, connOpt := fakeServer(t)

	admin, err := pubsub.NewClient(ctx, "harvest-project", connOpt)
	require.NoError(t, err)
	_, err = admin.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: fullTopicName("harvest-project", "datasets")})
	require.NoError(t, err)

	pub, err := Open(ctx, "harvest-project", "datasets", connOpt)
	require.NoError(t, err)

	id, err := pub.Publish(ctx, "ignored", notice{EntryID: "S1A_IW_GRDH"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got notice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "S1A_IW_GRDH", got.EntryID)
	require.Equal(t, "S1A_IW_GRDH", msgs[0].Attributes["entry_id"])
}

func TestOpenMissingTopic(t *testing.T) {
	_, connOpt := fakeServer(t)

	_, err := Open(context.Background(), "harvest-project", "missing", connOpt)
	require.ErrorContains(t, err, `get pubsub topic "missing"`)

	_, err = Open(context.Background(), "", "datasets")
	require.ErrorContains(t, err, "project and topic are required")
}

func TestPublishWithoutPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", notice{})
	require.ErrorContains(t, err, "not configured")
	require.NoError(t, New(nil).Close())
}

func TestCarrier(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
