package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waflow/flowd/flowcache"
	"github.com/waflow/flowd/gateway"
	"github.com/waflow/flowd/model"
	"github.com/waflow/flowd/persistence"
	"github.com/waflow/flowd/persistence/memory"
	"github.com/waflow/flowd/util"
)

type sentMessage struct {
	to      string
	text    string
	link    string
	buttons []model.Button
}

type fakeGateway struct {
	sent       []sentMessage
	httpStatus int
	httpBody   []byte
	httpUrls   []string
}

var _ gateway.Gateway = new(fakeGateway)

func (f *fakeGateway) SendText(ctx context.Context, to string, text string) (string, error) {
	f.sent = append(f.sent, sentMessage{to: to, text: text})
	return "wamid.fake", nil
}

func (f *fakeGateway) SendImage(ctx context.Context, to string, link string, caption string) (string, error) {
	f.sent = append(f.sent, sentMessage{to: to, text: caption, link: link})
	return "wamid.fake", nil
}

func (f *fakeGateway) SendDocument(ctx context.Context, to string, link string, caption string) (string, error) {
	f.sent = append(f.sent, sentMessage{to: to, text: caption, link: link})
	return "wamid.fake", nil
}

func (f *fakeGateway) SendVideo(ctx context.Context, to string, link string, caption string) (string, error) {
	f.sent = append(f.sent, sentMessage{to: to, text: caption, link: link})
	return "wamid.fake", nil
}

func (f *fakeGateway) SendAudio(ctx context.Context, to string, link string) (string, error) {
	f.sent = append(f.sent, sentMessage{to: to, link: link})
	return "wamid.fake", nil
}

func (f *fakeGateway) SendButtons(ctx context.Context, to string, body string, buttons []model.Button) (string, error) {
	f.sent = append(f.sent, sentMessage{to: to, text: body, buttons: buttons})
	return "wamid.fake", nil
}

func (f *fakeGateway) SendTemplate(ctx context.Context, to string, name string, language string, variables []string, headerMediaUrl string) (string, error) {
	f.sent = append(f.sent, sentMessage{to: to, text: name})
	return "wamid.fake", nil
}

func (f *fakeGateway) HTTPRequest(ctx context.Context, method string, url string, headers map[string]string, body []byte) (*gateway.HTTPResponse, error) {
	f.httpUrls = append(f.httpUrls, url)
	status := f.httpStatus
	if status == 0 {
		status = 200
	}
	return &gateway.HTTPResponse{StatusCode: status, Body: f.httpBody}, nil
}

func nodeData(t *testing.T, cfg any) json.RawMessage {
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	return data
}

func newTestEngine(t *testing.T, gw gateway.Gateway, flows ...model.Flow) (*Engine, persistence.Storage) {
	storage := memory.NewMemoryStorage()
	for _, f := range flows {
		require.NoError(t, storage.FlowDao().Save(context.Background(), f))
	}
	cache := flowcache.New(storage.FlowDao(), time.Minute)
	return NewEngine(storage, gw, cache, time.Second), storage
}

func textEvent(conversationId string, text string) model.InboundEvent {
	return model.InboundEvent{
		Type:            model.EVENT_TYPE_TEXT,
		ConversationId:  conversationId,
		FromPhoneNumber: conversationId,
		Text:            text,
		Timestamp:       time.Now(),
	}
}

func greetingFlow(t *testing.T) model.Flow {
	return model.Flow{
		Id:      "greeting",
		Name:    "greeting",
		Status:  model.FLOW_STATUS_ACTIVE,
		Trigger: model.Trigger{Type: model.TRIGGER_TYPE_KEYWORD, Keywords: []string{"hi"}},
		Nodes: []model.Node{
			{Id: "start", Type: model.NODE_TYPE_TRIGGER},
			{Id: "ask", Type: model.NODE_TYPE_SEND_MESSAGE, Data: nodeData(t, model.SendMessageConfig{Message: "Hello {{name}}"})},
			{Id: "input", Type: model.NODE_TYPE_USER_INPUT, Data: nodeData(t, model.UserInputConfig{InputType: model.INPUT_TYPE_TEXT, Variable: "name"})},
			{Id: "greet", Type: model.NODE_TYPE_SEND_MESSAGE, Data: nodeData(t, model.SendMessageConfig{Message: "Nice to meet you, {{name}}!"})},
		},
		Edges: []model.Edge{
			{Id: "e1", Source: "start", Target: "ask"},
			{Id: "e2", Source: "ask", Target: "input"},
			{Id: "e3", Source: "input", Target: "greet"},
		},
	}
}

func TestKeywordTriggerRunsToCompletion(t *testing.T) {
	gw := &fakeGateway{}
	f := model.Flow{
		Id:      "echo",
		Status:  model.FLOW_STATUS_ACTIVE,
		Trigger: model.Trigger{Type: model.TRIGGER_TYPE_KEYWORD, Keywords: []string{"hello"}},
		Nodes: []model.Node{
			{Id: "start", Type: model.NODE_TYPE_TRIGGER},
			{Id: "reply", Type: model.NODE_TYPE_SEND_MESSAGE, Data: nodeData(t, model.SendMessageConfig{Message: "You said {{message}}"})},
		},
		Edges: []model.Edge{{Id: "e1", Source: "start", Target: "reply"}},
	}
	engine, storage := newTestEngine(t, gw, f)

	err := engine.HandleInbound(context.Background(), textEvent("491700000001", "hello there"))
	require.NoError(t, err)

	require.Len(t, gw.sent, 1)
	assert.Equal(t, "491700000001", gw.sent[0].to)
	assert.Equal(t, "You said hello there", gw.sent[0].text)

	_, err = storage.ExecutionDao().FindActive(context.Background(), "491700000001")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestNoTriggerMatchIsIgnored(t *testing.T) {
	gw := &fakeGateway{}
	engine, storage := newTestEngine(t, gw, greetingFlow(t))

	err := engine.HandleInbound(context.Background(), textEvent("491700000001", "unrelated"))
	require.NoError(t, err)
	assert.Empty(t, gw.sent)

	_, err = storage.ExecutionDao().FindActive(context.Background(), "491700000001")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestUserInputSuspendsAndResumes(t *testing.T) {
	gw := &fakeGateway{}
	engine, storage := newTestEngine(t, gw, greetingFlow(t))
	conversationId := "491700000002"

	err := engine.HandleInbound(context.Background(), textEvent(conversationId, "hi"))
	require.NoError(t, err)

	// name is not captured yet, the placeholder stays verbatim
	require.Len(t, gw.sent, 1)
	assert.Equal(t, "Hello {{name}}", gw.sent[0].text)

	execution, err := storage.ExecutionDao().FindActive(context.Background(), conversationId)
	require.NoError(t, err)
	assert.Equal(t, model.EXECUTION_RUNNING, execution.State)
	assert.Equal(t, "input", execution.CurrentNodeId)

	err = engine.HandleInbound(context.Background(), textEvent(conversationId, "Alice"))
	require.NoError(t, err)

	require.Len(t, gw.sent, 2)
	assert.Equal(t, "Nice to meet you, Alice!", gw.sent[1].text)

	_, err = storage.ExecutionDao().FindActive(context.Background(), conversationId)
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	done, err := storage.ExecutionDao().Get(context.Background(), execution.Id)
	require.NoError(t, err)
	assert.Equal(t, model.EXECUTION_COMPLETED, done.State)
	assert.Equal(t, "Alice", done.Variables["name"])
}

func conditionFlow(t *testing.T, operator model.Operator, value string, expression string, withNoBranch bool) model.Flow {
	f := model.Flow{
		Id:      "age-check",
		Status:  model.FLOW_STATUS_ACTIVE,
		Trigger: model.Trigger{Type: model.TRIGGER_TYPE_KEYWORD, Keywords: []string{"age"}},
		Nodes: []model.Node{
			{Id: "start", Type: model.NODE_TYPE_TRIGGER},
			{Id: "input", Type: model.NODE_TYPE_USER_INPUT, Data: nodeData(t, model.UserInputConfig{InputType: model.INPUT_TYPE_NUMBER, Variable: "age"})},
			{Id: "check", Type: model.NODE_TYPE_CONDITION, Data: nodeData(t, model.ConditionConfig{Variable: "age", Operator: operator, Value: value, Expression: expression})},
			{Id: "adult", Type: model.NODE_TYPE_SEND_MESSAGE, Data: nodeData(t, model.SendMessageConfig{Message: "adult"})},
			{Id: "minor", Type: model.NODE_TYPE_SEND_MESSAGE, Data: nodeData(t, model.SendMessageConfig{Message: "minor"})},
		},
		Edges: []model.Edge{
			{Id: "e1", Source: "start", Target: "input"},
			{Id: "e2", Source: "input", Target: "check"},
			{Id: "e3", Source: "check", Target: "adult", SourceHandle: "yes"},
		},
	}
	if withNoBranch {
		f.Edges = append(f.Edges, model.Edge{Id: "e4", Source: "check", Target: "minor", SourceHandle: "no"})
	}
	return f
}

func TestConditionTakesNumericBranch(t *testing.T) {
	gw := &fakeGateway{}
	engine, _ := newTestEngine(t, gw, conditionFlow(t, model.OPERATOR_GREATER, "18", "", true))

	require.NoError(t, engine.HandleInbound(context.Background(), textEvent("4917001", "age")))
	require.NoError(t, engine.HandleInbound(context.Background(), textEvent("4917001", "30")))
	require.Len(t, gw.sent, 1)
	assert.Equal(t, "adult", gw.sent[0].text)

	require.NoError(t, engine.HandleInbound(context.Background(), textEvent("4917002", "age")))
	require.NoError(t, engine.HandleInbound(context.Background(), textEvent("4917002", "9")))
	require.Len(t, gw.sent, 2)
	assert.Equal(t, "minor", gw.sent[1].text)
}

func TestConditionMissingBranchCompletes(t *testing.T) {
	gw := &fakeGateway{}
	engine, storage := newTestEngine(t, gw, conditionFlow(t, model.OPERATOR_GREATER, "18", "", false))
	conversationId := "4917003"

	require.NoError(t, engine.HandleInbound(context.Background(), textEvent(conversationId, "age")))

	execution, err := storage.ExecutionDao().FindActive(context.Background(), conversationId)
	require.NoError(t, err)

	require.NoError(t, engine.HandleInbound(context.Background(), textEvent(conversationId, "9")))
	assert.Empty(t, gw.sent)

	done, err := storage.ExecutionDao().Get(context.Background(), execution.Id)
	require.NoError(t, err)
	assert.Equal(t, model.EXECUTION_COMPLETED, done.State)
}

func TestConditionExpressionOperator(t *testing.T) {
	gw := &fakeGateway{}
	engine, _ := newTestEngine(t, gw, conditionFlow(t, model.OPERATOR_EXPRESSION, "", "age > 18 && age < 100", true))

	require.NoError(t, engine.HandleInbound(context.Background(), textEvent("4917004", "age")))
	require.NoError(t, engine.HandleInbound(context.Background(), textEvent("4917004", "42")))
	require.Len(t, gw.sent, 1)
	assert.Equal(t, "adult", gw.sent[0].text)
}

func TestGoToJumpsBack(t *testing.T) {
	gw := &fakeGateway{}
	f := model.Flow{
		Id:      "menu",
		Status:  model.FLOW_STATUS_ACTIVE,
		Trigger: model.Trigger{Type: model.TRIGGER_TYPE_KEYWORD, Keywords: []string{"menu"}},
		Nodes: []model.Node{
			{Id: "start", Type: model.NODE_TYPE_TRIGGER},
			{Id: "show", Type: model.NODE_TYPE_SEND_MESSAGE, Data: nodeData(t, model.SendMessageConfig{Message: "pick one"})},
			{Id: "input", Type: model.NODE_TYPE_USER_INPUT, Data: nodeData(t, model.UserInputConfig{InputType: model.INPUT_TYPE_TEXT, Variable: "choice"})},
			{Id: "check", Type: model.NODE_TYPE_CONDITION, Data: nodeData(t, model.ConditionConfig{Variable: "choice", Operator: model.OPERATOR_EQUALS, Value: "again"})},
			{Id: "loop", Type: model.NODE_TYPE_GOTO, Data: nodeData(t, model.GoToConfig{TargetBlockId: "show"})},
			{Id: "bye", Type: model.NODE_TYPE_SEND_MESSAGE, Data: nodeData(t, model.SendMessageConfig{Message: "bye"})},
		},
		Edges: []model.Edge{
			{Id: "e1", Source: "start", Target: "show"},
			{Id: "e2", Source: "show", Target: "input"},
			{Id: "e3", Source: "input", Target: "check"},
			{Id: "e4", Source: "check", Target: "loop", SourceHandle: "yes"},
			{Id: "e5", Source: "check", Target: "bye", SourceHandle: "no"},
		},
	}
	engine, _ := newTestEngine(t, gw, f)
	conversationId := "4917005"

	require.NoError(t, engine.HandleInbound(context.Background(), textEvent(conversationId, "menu")))
	require.NoError(t, engine.HandleInbound(context.Background(), textEvent(conversationId, "again")))
	require.NoError(t, engine.HandleInbound(context.Background(), textEvent(conversationId, "done")))

	require.Len(t, gw.sent, 3)
	assert.Equal(t, "pick one", gw.sent[0].text)
	assert.Equal(t, "pick one", gw.sent[1].text)
	assert.Equal(t, "bye", gw.sent[2].text)
}

func TestGoToMissingTargetFailsExecution(t *testing.T) {
	gw := &fakeGateway{}
	f := model.Flow{
		Id:      "broken",
		Status:  model.FLOW_STATUS_ACTIVE,
		Trigger: model.Trigger{Type: model.TRIGGER_TYPE_KEYWORD, Keywords: []string{"go"}},
		Nodes: []model.Node{
			{Id: "start", Type: model.NODE_TYPE_TRIGGER},
			{Id: "jump", Type: model.NODE_TYPE_GOTO, Data: nodeData(t, model.GoToConfig{TargetBlockId: "nowhere"})},
		},
		Edges: []model.Edge{{Id: "e1", Source: "start", Target: "jump"}},
	}
	engine, storage := newTestEngine(t, gw, f)
	conversationId := "4917006"

	execution, err := engine.Start(context.Background(), &f, conversationId, nil)
	require.NoError(t, err)
	assert.Equal(t, model.EXECUTION_ERROR, execution.State)

	stored, err := storage.ExecutionDao().Get(context.Background(), execution.Id)
	require.NoError(t, err)
	assert.Equal(t, model.EXECUTION_ERROR, stored.State)
	assert.Equal(t, "jump", stored.CurrentNodeId)

	_, err = storage.ExecutionDao().FindActive(context.Background(), conversationId)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestApiCallStoresResponseValue(t *testing.T) {
	gw := &fakeGateway{httpBody: []byte(`{"data":{"name":"Ada","plan":"pro"}}`)}
	f := model.Flow{
		Id:      "lookup",
		Status:  model.FLOW_STATUS_ACTIVE,
		Trigger: model.Trigger{Type: model.TRIGGER_TYPE_KEYWORD, Keywords: []string{"whoami"}},
		Nodes: []model.Node{
			{Id: "start", Type: model.NODE_TYPE_TRIGGER},
			{Id: "fetch", Type: model.NODE_TYPE_API_CALL, Data: nodeData(t, model.ApiCallConfig{
				Url:              "https://api.example.com/users/{{phone}}",
				Method:           "get",
				ResponseVariable: "user",
				ResponsePath:     "$.data.name",
			})},
			{Id: "reply", Type: model.NODE_TYPE_SEND_MESSAGE, Data: nodeData(t, model.SendMessageConfig{Message: "Hi {{user}}"})},
		},
		Edges: []model.Edge{
			{Id: "e1", Source: "start", Target: "fetch"},
			{Id: "e2", Source: "fetch", Target: "reply"},
		},
	}
	engine, _ := newTestEngine(t, gw, f)

	require.NoError(t, engine.HandleInbound(context.Background(), textEvent("4917007", "whoami")))

	require.Len(t, gw.httpUrls, 1)
	assert.Equal(t, "https://api.example.com/users/4917007", gw.httpUrls[0])
	require.Len(t, gw.sent, 1)
	assert.Equal(t, "Hi Ada", gw.sent[0].text)
}

func TestApiCallNon2xxFailsExecution(t *testing.T) {
	gw := &fakeGateway{httpStatus: 503}
	f := model.Flow{
		Id:      "lookup",
		Status:  model.FLOW_STATUS_ACTIVE,
		Trigger: model.Trigger{Type: model.TRIGGER_TYPE_KEYWORD, Keywords: []string{"whoami"}},
		Nodes: []model.Node{
			{Id: "start", Type: model.NODE_TYPE_TRIGGER},
			{Id: "fetch", Type: model.NODE_TYPE_API_CALL, Data: nodeData(t, model.ApiCallConfig{Url: "https://api.example.com/users"})},
		},
		Edges: []model.Edge{{Id: "e1", Source: "start", Target: "fetch"}},
	}
	engine, _ := newTestEngine(t, gw, f)

	execution, err := engine.Start(context.Background(), &f, "4917008", nil)
	require.NoError(t, err)
	assert.Equal(t, model.EXECUTION_ERROR, execution.State)
	assert.Empty(t, gw.sent)
}

func TestDelaySuspendsAndTimerResumes(t *testing.T) {
	gw := &fakeGateway{}
	f := model.Flow{
		Id:      "reminder",
		Status:  model.FLOW_STATUS_ACTIVE,
		Trigger: model.Trigger{Type: model.TRIGGER_TYPE_KEYWORD, Keywords: []string{"remind"}},
		Nodes: []model.Node{
			{Id: "start", Type: model.NODE_TYPE_TRIGGER},
			{Id: "wait", Type: model.NODE_TYPE_DELAY, Data: nodeData(t, model.DelayConfig{Duration: 10})},
			{Id: "nudge", Type: model.NODE_TYPE_SEND_MESSAGE, Data: nodeData(t, model.SendMessageConfig{Message: "still there?"})},
		},
		Edges: []model.Edge{
			{Id: "e1", Source: "start", Target: "wait"},
			{Id: "e2", Source: "wait", Target: "nudge"},
		},
	}
	engine, storage := newTestEngine(t, gw, f)
	conversationId := "4917009"

	require.NoError(t, engine.HandleInbound(context.Background(), textEvent(conversationId, "remind")))

	execution, err := storage.ExecutionDao().FindActive(context.Background(), conversationId)
	require.NoError(t, err)
	assert.Equal(t, model.EXECUTION_PAUSED, execution.State)
	require.NotNil(t, execution.ResumeAt)
	assert.Empty(t, gw.sent)

	// a paused execution ignores user messages
	require.NoError(t, engine.HandleInbound(context.Background(), textEvent(conversationId, "remind")))
	assert.Empty(t, gw.sent)

	time.Sleep(20 * time.Millisecond)
	due, err := storage.DelayQueue().Pop(DELAY_QUEUE)
	require.NoError(t, err)
	require.Len(t, due, 1)

	encDec := util.NewJsonEncoderDecoder[model.DelayFiredMessage]()
	msg, err := encDec.Decode([]byte(due[0]))
	require.NoError(t, err)
	assert.Equal(t, execution.Id, msg.ExecutionId)
	assert.Equal(t, "wait", msg.NodeId)

	require.NoError(t, engine.HandleTimer(context.Background(), *msg))
	require.Len(t, gw.sent, 1)
	assert.Equal(t, "still there?", gw.sent[0].text)

	done, err := storage.ExecutionDao().Get(context.Background(), execution.Id)
	require.NoError(t, err)
	assert.Equal(t, model.EXECUTION_COMPLETED, done.State)
	assert.Nil(t, done.ResumeAt)
}

func TestStaleTimerRecordDropped(t *testing.T) {
	gw := &fakeGateway{}
	engine, storage := newTestEngine(t, gw, greetingFlow(t))
	conversationId := "4917010"

	require.NoError(t, engine.HandleInbound(context.Background(), textEvent(conversationId, "hi")))
	execution, err := storage.ExecutionDao().FindActive(context.Background(), conversationId)
	require.NoError(t, err)

	// execution is pinned on a userInput node, not paused on a delay
	err = engine.HandleTimer(context.Background(), model.DelayFiredMessage{
		ExecutionId:    execution.Id,
		ConversationId: conversationId,
		NodeId:         "wait",
	})
	require.NoError(t, err)

	unchanged, err := storage.ExecutionDao().Get(context.Background(), execution.Id)
	require.NoError(t, err)
	assert.Equal(t, model.EXECUTION_RUNNING, unchanged.State)
	assert.Equal(t, "input", unchanged.CurrentNodeId)
}

func TestTimerForUnknownExecutionIgnored(t *testing.T) {
	gw := &fakeGateway{}
	engine, _ := newTestEngine(t, gw)

	err := engine.HandleTimer(context.Background(), model.DelayFiredMessage{
		ExecutionId:    "gone",
		ConversationId: "4917011",
		NodeId:         "wait",
	})
	require.NoError(t, err)
}

type overrideStorage struct {
	persistence.Storage
	executionDao persistence.ExecutionDao
	delayQueue   persistence.DelayQueue
}

func (s *overrideStorage) ExecutionDao() persistence.ExecutionDao {
	if s.executionDao != nil {
		return s.executionDao
	}
	return s.Storage.ExecutionDao()
}

func (s *overrideStorage) DelayQueue() persistence.DelayQueue {
	if s.delayQueue != nil {
		return s.delayQueue
	}
	return s.Storage.DelayQueue()
}

// firingDelayQueue hands every pushed record to fire right away, as if the
// poller ticked in the instant the record became visible.
type firingDelayQueue struct {
	persistence.DelayQueue
	fire func(message []byte)
}

func (q *firingDelayQueue) PushWithDelay(queueName string, delay time.Duration, message []byte) error {
	if err := q.DelayQueue.PushWithDelay(queueName, delay, message); err != nil {
		return err
	}
	q.fire(message)
	return nil
}

func reminderFlow(t *testing.T) model.Flow {
	return model.Flow{
		Id:      "reminder",
		Status:  model.FLOW_STATUS_ACTIVE,
		Trigger: model.Trigger{Type: model.TRIGGER_TYPE_KEYWORD, Keywords: []string{"remind"}},
		Nodes: []model.Node{
			{Id: "start", Type: model.NODE_TYPE_TRIGGER},
			{Id: "wait", Type: model.NODE_TYPE_DELAY, Data: nodeData(t, model.DelayConfig{Duration: 10})},
			{Id: "nudge", Type: model.NODE_TYPE_SEND_MESSAGE, Data: nodeData(t, model.SendMessageConfig{Message: "still there?"})},
		},
		Edges: []model.Edge{
			{Id: "e1", Source: "start", Target: "wait"},
			{Id: "e2", Source: "wait", Target: "nudge"},
		},
	}
}

func TestDelayRecordFiringImmediatelyStillResumes(t *testing.T) {
	gw := &fakeGateway{}
	storage := memory.NewMemoryStorage()
	require.NoError(t, storage.FlowDao().Save(context.Background(), reminderFlow(t)))

	var engine *Engine
	encDec := util.NewJsonEncoderDecoder[model.DelayFiredMessage]()
	wrapped := &overrideStorage{
		Storage: storage,
		delayQueue: &firingDelayQueue{
			DelayQueue: storage.DelayQueue(),
			fire: func(message []byte) {
				msg, err := encDec.Decode(message)
				require.NoError(t, err)
				require.NoError(t, engine.HandleTimer(context.Background(), *msg))
			},
		},
	}
	cache := flowcache.New(storage.FlowDao(), time.Minute)
	engine = NewEngine(wrapped, gw, cache, time.Second)
	conversationId := "4917013"

	require.NoError(t, engine.HandleInbound(context.Background(), textEvent(conversationId, "remind")))

	// the record fired before handleDelay returned, the execution must have
	// resumed instead of being stranded in paused
	require.Len(t, gw.sent, 1)
	assert.Equal(t, "still there?", gw.sent[0].text)

	_, err := storage.ExecutionDao().FindActive(context.Background(), conversationId)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestRecoverDelaysRequeuesLostRecord(t *testing.T) {
	gw := &fakeGateway{}
	engine, storage := newTestEngine(t, gw, reminderFlow(t))
	conversationId := "4917014"

	require.NoError(t, engine.HandleInbound(context.Background(), textEvent(conversationId, "remind")))

	execution, err := storage.ExecutionDao().FindActive(context.Background(), conversationId)
	require.NoError(t, err)
	assert.Equal(t, model.EXECUTION_PAUSED, execution.State)

	// simulate a crash after Pop: the record is gone, ResumeAt remains
	time.Sleep(20 * time.Millisecond)
	lost, err := storage.DelayQueue().Pop(DELAY_QUEUE)
	require.NoError(t, err)
	require.Len(t, lost, 1)

	require.NoError(t, engine.RecoverDelays(context.Background()))

	due, err := storage.DelayQueue().Pop(DELAY_QUEUE)
	require.NoError(t, err)
	require.Len(t, due, 1)

	encDec := util.NewJsonEncoderDecoder[model.DelayFiredMessage]()
	msg, err := encDec.Decode([]byte(due[0]))
	require.NoError(t, err)
	require.NoError(t, engine.HandleTimer(context.Background(), *msg))

	require.Len(t, gw.sent, 1)
	assert.Equal(t, "still there?", gw.sent[0].text)
}

// conflictingExecutionDao lets a concurrent winner advance the stored record
// just before the armed update, so that update hits a version conflict.
type conflictingExecutionDao struct {
	persistence.ExecutionDao
	armed bool
}

func (d *conflictingExecutionDao) Update(ctx context.Context, execution *model.Execution) error {
	if d.armed {
		d.armed = false
		winner, err := d.ExecutionDao.Get(ctx, execution.Id)
		if err != nil {
			return err
		}
		if err := d.ExecutionDao.Update(ctx, winner); err != nil {
			return err
		}
	}
	return d.ExecutionDao.Update(ctx, execution)
}

func TestConflictingResumeDoesNotDoubleSend(t *testing.T) {
	gw := &fakeGateway{}
	storage := memory.NewMemoryStorage()
	require.NoError(t, storage.FlowDao().Save(context.Background(), greetingFlow(t)))

	dao := &conflictingExecutionDao{ExecutionDao: storage.ExecutionDao()}
	wrapped := &overrideStorage{Storage: storage, executionDao: dao}
	cache := flowcache.New(storage.FlowDao(), time.Minute)
	engine := NewEngine(wrapped, gw, cache, time.Second)
	conversationId := "4917015"

	require.NoError(t, engine.HandleInbound(context.Background(), textEvent(conversationId, "hi")))
	require.Len(t, gw.sent, 1)

	// another delivery of the answer wins the version race mid-resume
	dao.armed = true
	err := engine.HandleInbound(context.Background(), textEvent(conversationId, "Alice"))
	assert.ErrorIs(t, err, persistence.ErrVersionConflict)

	// the losing step stopped before its next send
	require.Len(t, gw.sent, 1)
}

func TestQuickReplyAnswerCoercion(t *testing.T) {
	gw := &fakeGateway{}
	f := model.Flow{
		Id:      "plan",
		Status:  model.FLOW_STATUS_ACTIVE,
		Trigger: model.Trigger{Type: model.TRIGGER_TYPE_KEYWORD, Keywords: []string{"plan"}},
		Nodes: []model.Node{
			{Id: "start", Type: model.NODE_TYPE_TRIGGER},
			{Id: "input", Type: model.NODE_TYPE_USER_INPUT, Data: nodeData(t, model.UserInputConfig{
				InputType: model.INPUT_TYPE_QUICK_REPLIES,
				Variable:  "plan",
				QuickReplies: []model.QuickReply{
					{Text: "Basic plan", Value: "basic"},
					{Text: "Pro plan", Value: "pro"},
				},
			})},
			{Id: "confirm", Type: model.NODE_TYPE_SEND_MESSAGE, Data: nodeData(t, model.SendMessageConfig{Message: "You picked {{plan}}"})},
		},
		Edges: []model.Edge{
			{Id: "e1", Source: "start", Target: "input"},
			{Id: "e2", Source: "input", Target: "confirm"},
		},
	}
	engine, _ := newTestEngine(t, gw, f)
	conversationId := "4917012"

	require.NoError(t, engine.HandleInbound(context.Background(), textEvent(conversationId, "plan")))
	require.NoError(t, engine.HandleInbound(context.Background(), model.InboundEvent{
		Type:           model.EVENT_TYPE_BUTTON,
		ConversationId: conversationId,
		ButtonId:       "pro",
		ButtonText:     "Pro plan",
		Timestamp:      time.Now(),
	}))

	require.Len(t, gw.sent, 1)
	assert.Equal(t, "You picked pro", gw.sent[0].text)
}
