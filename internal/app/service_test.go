package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hylla/boardflow/internal/domain"
)

type fakeItems struct {
	byID map[string]domain.Item

	insertCalls  int
	applyCalls   int
	deleteCalls  int
	archiveCalls int
}

func newFakeItems() *fakeItems {
	return &fakeItems{byID: map[string]domain.Item{}}
}

func (f *fakeItems) Insert(_ context.Context, item domain.Item) error {
	f.insertCalls++
	f.byID[item.ID] = item
	return nil
}

func (f *fakeItems) Get(_ context.Context, kind domain.Kind, id string) (domain.Item, error) {
	item, ok := f.byID[id]
	if !ok || item.Kind != kind {
		return domain.Item{}, ErrNotFound
	}
	return item, nil
}

func (f *fakeItems) Apply(_ context.Context, kind domain.Kind, id string, patch ItemPatch) (domain.Item, error) {
	f.applyCalls++
	item, ok := f.byID[id]
	if !ok || item.Kind != kind {
		return domain.Item{}, ErrNotFound
	}
	if patch.Name != nil {
		item.Name = *patch.Name
	}
	if patch.StageID != nil {
		item.StageID = *patch.StageID
	}
	if patch.Order != nil {
		item.Order = *patch.Order
	}
	if patch.Status != nil {
		item.Status = *patch.Status
	}
	if patch.AssignedUserIDs != nil {
		item.AssignedUserIDs = *patch.AssignedUserIDs
	}
	if patch.WatchedUserIDs != nil {
		item.WatchedUserIDs = *patch.WatchedUserIDs
	}
	if patch.LabelIDs != nil {
		item.LabelIDs = *patch.LabelIDs
	}
	if patch.TagIDs != nil {
		item.TagIDs = *patch.TagIDs
	}
	if patch.CustomFieldsData != nil {
		item.CustomFieldsData = *patch.CustomFieldsData
	}
	if patch.ProductsData != nil {
		item.ProductsData = *patch.ProductsData
	}
	if patch.PaymentsData != nil {
		item.PaymentsData = *patch.PaymentsData
	}
	if patch.StageChangedDate != nil {
		item.StageChangedDate = patch.StageChangedDate
	}
	item.ModifiedBy = patch.ModifiedBy
	item.ModifiedAt = patch.ModifiedAt
	f.byID[id] = item
	return item, nil
}

func (f *fakeItems) Delete(_ context.Context, kind domain.Kind, id string) error {
	f.deleteCalls++
	item, ok := f.byID[id]
	if !ok || item.Kind != kind {
		return ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeItems) ListStageItems(_ context.Context, kind domain.Kind, stageID string, includeArchived bool) ([]domain.Item, error) {
	out := []domain.Item{}
	for _, item := range f.byID {
		if item.Kind != kind || item.StageID != stageID {
			continue
		}
		if !includeArchived && item.Archived() {
			continue
		}
		out = append(out, item)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Order < out[i].Order {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (f *fakeItems) MinOrder(_ context.Context, kind domain.Kind, stageID string) (float64, bool, error) {
	min, found := 0.0, false
	for _, item := range f.byID {
		if item.Kind != kind || item.StageID != stageID || item.Archived() {
			continue
		}
		if !found || item.Order < min {
			min, found = item.Order, true
		}
	}
	return min, found, nil
}

func (f *fakeItems) NextOrder(_ context.Context, kind domain.Kind, stageID string, after float64) (float64, bool, error) {
	next, found := 0.0, false
	for _, item := range f.byID {
		if item.Kind != kind || item.StageID != stageID || item.Archived() {
			continue
		}
		if item.Order <= after {
			continue
		}
		if !found || item.Order < next {
			next, found = item.Order, true
		}
	}
	return next, found, nil
}

func (f *fakeItems) NearestActiveAbove(_ context.Context, kind domain.Kind, stageID string, order float64) (domain.Item, bool, error) {
	var above domain.Item
	found := false
	for _, item := range f.byID {
		if item.Kind != kind || item.StageID != stageID || item.Archived() {
			continue
		}
		if item.Order >= order {
			continue
		}
		if !found || item.Order > above.Order {
			above, found = item, true
		}
	}
	return above, found, nil
}

func (f *fakeItems) ArchiveStageItems(_ context.Context, kind domain.Kind, stageID string) (int64, error) {
	f.archiveCalls++
	var n int64
	for id, item := range f.byID {
		if item.Kind != kind || item.StageID != stageID || item.Archived() {
			continue
		}
		item.Status = domain.StatusArchived
		f.byID[id] = item
		n++
	}
	return n, nil
}

type fakeHierarchy struct {
	stages    map[string]domain.Stage
	pipelines map[string]domain.Pipeline
	boards    map[string]domain.Board
}

func newFakeHierarchy() *fakeHierarchy {
	return &fakeHierarchy{
		stages:    map[string]domain.Stage{},
		pipelines: map[string]domain.Pipeline{},
		boards:    map[string]domain.Board{},
	}
}

func (f *fakeHierarchy) GetStage(_ context.Context, id string) (domain.Stage, error) {
	s, ok := f.stages[id]
	if !ok {
		return domain.Stage{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeHierarchy) GetPipeline(_ context.Context, id string) (domain.Pipeline, error) {
	p, ok := f.pipelines[id]
	if !ok {
		return domain.Pipeline{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeHierarchy) GetBoard(_ context.Context, id string) (domain.Board, error) {
	b, ok := f.boards[id]
	if !ok {
		return domain.Board{}, ErrNotFound
	}
	return b, nil
}

type fakeActivity struct {
	logs []domain.ActivityLog
}

func (f *fakeActivity) Put(_ context.Context, entry domain.ActivityLog) error {
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeActivity) ListByContent(_ context.Context, kind domain.Kind, contentID string, _ int) ([]domain.ActivityLog, error) {
	out := []domain.ActivityLog{}
	for _, entry := range f.logs {
		if entry.ContentType == kind && entry.ContentID == contentID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeActivity) byAction(action domain.ActivityAction) []domain.ActivityLog {
	out := []domain.ActivityLog{}
	for _, entry := range f.logs {
		if entry.Action == action {
			out = append(out, entry)
		}
	}
	return out
}

type fakePublisher struct {
	events []domain.PipelineEvent
}

func (f *fakePublisher) Publish(_ context.Context, event domain.PipelineEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) byAction(action domain.EventAction) []domain.PipelineEvent {
	out := []domain.PipelineEvent{}
	for _, e := range f.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fakeNotifications struct {
	sent    []domain.Notification
	mobile  []domain.MobilePush
	batches []domain.NotificationLinkUpdate
}

func (f *fakeNotifications) Send(_ context.Context, _ string, n domain.Notification) {
	f.sent = append(f.sent, n)
}

func (f *fakeNotifications) SendMobile(_ context.Context, _ string, p domain.MobilePush) {
	f.mobile = append(f.mobile, p)
}

func (f *fakeNotifications) BatchUpdate(_ context.Context, _ string, u domain.NotificationLinkUpdate) {
	f.batches = append(f.batches, u)
}

type fakeCore struct {
	canResult    bool
	canErr       error
	canCalls     int
	prepareFail  bool
	prepareCalls int
}

func (f *fakeCore) PrepareCustomFieldsData(_ context.Context, _ string, data []domain.CustomFieldValue) ([]domain.CustomFieldValue, bool) {
	f.prepareCalls++
	if f.prepareFail {
		return nil, false
	}
	return data, true
}

func (f *fakeCore) Can(_ context.Context, _, _, _ string) (bool, error) {
	f.canCalls++
	return f.canResult, f.canErr
}

type fakeRelations struct {
	customers map[string][]string
	companies map[string][]string

	conformities []Conformity
	destroyed    []string
	copied       [][2]string
	resolveFail  bool
}

func newFakeRelations() *fakeRelations {
	return &fakeRelations{
		customers: map[string][]string{},
		companies: map[string][]string{},
	}
}

func (f *fakeRelations) CreateConformity(_ context.Context, _ string, c Conformity) {
	f.conformities = append(f.conformities, c)
}

func (f *fakeRelations) DestroyRelations(_ context.Context, _ string, _ domain.Kind, itemID string) {
	f.destroyed = append(f.destroyed, itemID)
}

func (f *fakeRelations) CopyChecklists(_ context.Context, _ string, _ domain.Kind, fromID, toID, _ string) {
	f.copied = append(f.copied, [2]string{fromID, toID})
}

func (f *fakeRelations) CustomerIDs(_ context.Context, _ string, _ domain.Kind, itemID string) ([]string, bool) {
	if f.resolveFail {
		return nil, false
	}
	return f.customers[itemID], true
}

func (f *fakeRelations) CompanyIDs(_ context.Context, _ string, _ domain.Kind, itemID string) ([]string, bool) {
	if f.resolveFail {
		return nil, false
	}
	return f.companies[itemID], true
}

type fakePricing struct {
	result map[string]PricingDiscount
	fail   bool
	calls  int
}

func (f *fakePricing) CheckPricing(_ context.Context, _ string, _ PricingRequest) (map[string]PricingDiscount, bool) {
	f.calls++
	if f.fail {
		return map[string]PricingDiscount{}, false
	}
	return f.result, true
}

type fakeLoyalty struct {
	campaigns map[string]*domain.ScoreCampaign

	lookupFail    bool
	checkErr      error
	checkCalls    int
	lastCheck     ScoreSubtractRequest
	subtractErr   error
	subtractCalls int
	confirmCalls  int
}

func newFakeLoyalty() *fakeLoyalty {
	return &fakeLoyalty{campaigns: map[string]*domain.ScoreCampaign{}}
}

func (f *fakeLoyalty) ScoreCampaign(_ context.Context, _, id string) (*domain.ScoreCampaign, bool) {
	return f.campaigns[id], !f.lookupFail
}

func (f *fakeLoyalty) CheckScoreAvailableSubtract(_ context.Context, _ string, req ScoreSubtractRequest) error {
	f.checkCalls++
	f.lastCheck = req
	return f.checkErr
}

func (f *fakeLoyalty) DoScoreCampaign(_ context.Context, _ string, _ ScoreSubtractRequest) error {
	f.subtractCalls++
	return f.subtractErr
}

func (f *fakeLoyalty) ConfirmLoyalties(_ context.Context, _ string, _ LoyaltyConfirmRequest) {
	f.confirmCalls++
}

type fixture struct {
	items    *fakeItems
	hier     *fakeHierarchy
	activity *fakeActivity
	pub      *fakePublisher
	notifs   *fakeNotifications
	core     *fakeCore
	rel      *fakeRelations
	pricing  *fakePricing
	loyalty  *fakeLoyalty
	svc      *Service
}

var fixedNow = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

// newFixture seeds board b1 with pipelines p1 (stages s1, s2) and p2 (stage
// s3), all unrestricted, and builds a Service over fakes with a counting id
// generator and a fixed clock.
func newFixture() *fixture {
	f := &fixture{
		items:    newFakeItems(),
		hier:     newFakeHierarchy(),
		activity: &fakeActivity{},
		pub:      &fakePublisher{},
		notifs:   &fakeNotifications{},
		core:     &fakeCore{canResult: true},
		rel:      newFakeRelations(),
		pricing:  &fakePricing{},
		loyalty:  newFakeLoyalty(),
	}
	f.hier.boards["b1"] = domain.Board{ID: "b1", Name: "Sales"}
	f.hier.pipelines["p1"] = domain.Pipeline{ID: "p1", BoardID: "b1", Name: "Main"}
	f.hier.pipelines["p2"] = domain.Pipeline{ID: "p2", BoardID: "b1", Name: "Backlog"}
	f.hier.stages["s1"] = domain.Stage{ID: "s1", PipelineID: "p1", Name: "New", Status: domain.StatusActive}
	f.hier.stages["s2"] = domain.Stage{ID: "s2", PipelineID: "p1", Name: "Won", Status: domain.StatusActive}
	f.hier.stages["s3"] = domain.Stage{ID: "s3", PipelineID: "p2", Name: "Parked", Status: domain.StatusActive}

	idCounter := 0
	f.svc = NewService(Deps{
		Items:         f.items,
		Hierarchy:     f.hier,
		Activity:      f.activity,
		Publisher:     f.pub,
		Notifications: f.notifs,
		Core:          f.core,
		Relations:     f.rel,
		Pricing:       f.pricing,
		Loyalty:       f.loyalty,
		Logger:        log.New(io.Discard),
		IDGen: func() string {
			idCounter++
			return fmt.Sprintf("id-%d", idCounter)
		},
		Clock: func() time.Time { return fixedNow },
	})
	return f
}

// putItem stores a pre-existing item directly in the fake store.
func (f *fixture) putItem(item domain.Item) domain.Item {
	if item.Kind == "" {
		item.Kind = domain.KindDeal
	}
	if item.Status == "" {
		item.Status = domain.StatusActive
	}
	f.items.byID[item.ID] = item
	return item
}

func strptr(s string) *string { return &s }

func statusPtr(s domain.Status) *domain.Status { return &s }

func TestItemsAddCreatesAndAnnounces(t *testing.T) {
	f := newFixture()
	actor := domain.User{ID: "u1", FullName: "Ann Lee"}

	item, err := f.svc.ItemsAdd(context.Background(), AddItemInput{
		Kind:            domain.KindDeal,
		Subdomain:       "os",
		ProcessID:       "proc-1",
		Actor:           actor,
		StageID:         "s1",
		Name:            "Big deal",
		AssignedUserIDs: []string{"u2", ""},
		LabelIDs:        []string{"", "l1"},
	})
	if err != nil {
		t.Fatalf("ItemsAdd() error = %v", err)
	}
	if item.Order != 100 {
		t.Fatalf("unexpected first order %v", item.Order)
	}
	if item.InitialStageID != "s1" || item.StageID != "s1" {
		t.Fatalf("unexpected stage fields %q %q", item.InitialStageID, item.StageID)
	}
	if len(item.WatchedUserIDs) != 1 || item.WatchedUserIDs[0] != "u1" {
		t.Fatalf("creator not watching: %v", item.WatchedUserIDs)
	}
	if len(item.AssignedUserIDs) != 1 || item.AssignedUserIDs[0] != "u2" {
		t.Fatalf("empty assignee ids not cleaned: %v", item.AssignedUserIDs)
	}
	if len(item.LabelIDs) != 1 || item.LabelIDs[0] != "l1" {
		t.Fatalf("empty label ids not cleaned: %v", item.LabelIDs)
	}

	adds := f.pub.byAction(domain.EventItemAdd)
	if len(adds) != 1 {
		t.Fatalf("expected 1 itemAdd event, got %d", len(adds))
	}
	event := adds[0]
	if event.PipelineID != "p1" || event.ProcessID != "proc-1" {
		t.Fatalf("unexpected event header %+v", event)
	}
	if event.Topic() != "salesPipelinesChanged:p1" {
		t.Fatalf("unexpected topic %q", event.Topic())
	}
	if event.Data.DestinationStageID != "s1" {
		t.Fatalf("unexpected destination %q", event.Data.DestinationStageID)
	}

	if len(f.notifs.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.notifs.sent))
	}
	n := f.notifs.sent[0]
	if n.NotifType != "dealAdd" {
		t.Fatalf("unexpected notifType %q", n.NotifType)
	}
	if n.Action != "invited you to the Main" || n.Content != "'Big deal'." {
		t.Fatalf("unexpected notification text %q / %q", n.Action, n.Content)
	}
	if n.Link != "/deal/board?id=b1&pipelineId=p1&itemId="+item.ID {
		t.Fatalf("unexpected link %q", n.Link)
	}
	if len(n.ReceiverIDs) != 1 || n.ReceiverIDs[0] != "u2" {
		t.Fatalf("actor not excluded from receivers: %v", n.ReceiverIDs)
	}

	created := f.activity.byAction(domain.ActivityCreate)
	if len(created) != 1 || created[0].ContentID != item.ID {
		t.Fatalf("expected 1 create log for the item, got %+v", created)
	}
}

func TestItemsAddValidation(t *testing.T) {
	f := newFixture()
	cases := []struct {
		name string
		in   AddItemInput
		want error
	}{
		{"unknown kind", AddItemInput{Kind: "invoice", StageID: "s1", ProcessID: "p"}, ErrUnknownKind},
		{"missing stage", AddItemInput{Kind: domain.KindDeal, ProcessID: "p"}, ErrMissingStage},
		{"missing process", AddItemInput{Kind: domain.KindDeal, StageID: "s1"}, ErrMissingProcess},
		{"unknown stage", AddItemInput{Kind: domain.KindDeal, StageID: "nope", ProcessID: "p"}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.ItemsAdd(context.Background(), tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("ItemsAdd() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestItemsEditStageRestriction(t *testing.T) {
	f := newFixture()
	f.hier.stages["s1"] = domain.Stage{
		ID: "s1", PipelineID: "p1", Name: "New",
		CanEditMemberIDs: []string{"editor"},
	}
	f.putItem(domain.Item{ID: "d1", Name: "Deal", StageID: "s1", Order: 100})

	_, err := f.svc.ItemsEdit(context.Background(), EditItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "outsider"}, ItemID: "d1",
		Name: strptr("Renamed"),
	})
	if !IsPermissionDenied(err) {
		t.Fatalf("expected permission denial for restricted stage, got %v", err)
	}
	if got := f.items.byID["d1"].Name; got != "Deal" {
		t.Fatalf("item mutated despite denial: %q", got)
	}

	// A pure status flip bypasses the stage editor list; it is gated by the
	// archive capability instead.
	_, err = f.svc.ItemsEdit(context.Background(), EditItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "outsider"}, ItemID: "d1",
		Status: statusPtr(domain.StatusArchived),
	})
	if err != nil {
		t.Fatalf("status-only edit should skip stage restriction, got %v", err)
	}
	if f.core.canCalls != 1 {
		t.Fatalf("expected 1 capability check, got %d", f.core.canCalls)
	}
	if !f.items.byID["d1"].Archived() {
		t.Fatal("item not archived")
	}
}

func TestItemsEditArchiveCapabilityDenied(t *testing.T) {
	f := newFixture()
	f.core.canResult = false
	f.putItem(domain.Item{ID: "d1", Name: "Deal", StageID: "s1", Order: 100})

	_, err := f.svc.ItemsEdit(context.Background(), EditItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "u1"}, ItemID: "d1",
		Status: statusPtr(domain.StatusArchived),
	})
	if !IsPermissionDenied(err) {
		t.Fatalf("expected capability denial, got %v", err)
	}
	if f.items.byID["d1"].Archived() {
		t.Fatal("item archived despite denial")
	}
}

func TestItemsEditArchiveReactivateRoundTrip(t *testing.T) {
	f := newFixture()
	f.putItem(domain.Item{ID: "top", Name: "Top", StageID: "s1", Order: 100})
	f.putItem(domain.Item{ID: "mid", Name: "Mid", StageID: "s1", Order: 200})
	f.putItem(domain.Item{ID: "low", Name: "Low", StageID: "s1", Order: 300})

	_, err := f.svc.ItemsEdit(context.Background(), EditItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "u1"}, ItemID: "mid",
		Status: statusPtr(domain.StatusArchived),
	})
	if err != nil {
		t.Fatalf("archive edit error = %v", err)
	}
	removes := f.pub.byAction(domain.EventItemRemove)
	if len(removes) != 1 || removes[0].Data.OldStageID != "s1" {
		t.Fatalf("expected 1 itemRemove with oldStageId, got %+v", removes)
	}

	updated, err := f.svc.ItemsEdit(context.Background(), EditItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "u1"}, ItemID: "mid",
		Status: statusPtr(domain.StatusActive),
	})
	if err != nil {
		t.Fatalf("reactivate edit error = %v", err)
	}
	if updated.Archived() {
		t.Fatal("item still archived after reactivation")
	}
	// Re-anchored directly below "top", so between 100 and 300.
	got := f.items.byID["mid"].Order
	if got <= 100 || got >= 300 {
		t.Fatalf("reactivated order %v not between neighbors", got)
	}
	adds := f.pub.byAction(domain.EventItemAdd)
	if len(adds) != 1 || adds[0].Data.AboveItemID != "top" {
		t.Fatalf("expected itemAdd anchored on top, got %+v", adds)
	}
	archiveLogs := f.activity.byAction(domain.ActivityArchive)
	if len(archiveLogs) != 2 {
		t.Fatalf("expected archive + activate logs, got %d", len(archiveLogs))
	}
	first := archiveLogs[0].Content.(map[string]any)
	second := archiveLogs[1].Content.(map[string]any)
	if first["content"] != "archived" || second["content"] != "activated" {
		t.Fatalf("unexpected transition contents %+v", archiveLogs)
	}
}

func TestItemsEditReactivationKeepsStageRestriction(t *testing.T) {
	f := newFixture()
	f.hier.stages["s1"] = domain.Stage{
		ID: "s1", PipelineID: "p1", Name: "New",
		CanEditMemberIDs: []string{"editor"},
	}
	f.putItem(domain.Item{ID: "d1", Name: "Deal", StageID: "s1", Order: 100,
		Status: domain.StatusArchived})

	// A status-only reactivation re-enters the stage's active ordering, so
	// it answers to the stage editor list like any other edit.
	_, err := f.svc.ItemsEdit(context.Background(), EditItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "outsider"}, ItemID: "d1",
		Status: statusPtr(domain.StatusActive),
	})
	if !IsPermissionDenied(err) {
		t.Fatalf("expected stage denial for outsider reactivation, got %v", err)
	}
	if f.core.canCalls != 0 {
		t.Fatalf("capability check must not replace the stage check, got %d calls", f.core.canCalls)
	}
	if !f.items.byID["d1"].Archived() {
		t.Fatal("item reactivated despite denial")
	}

	updated, err := f.svc.ItemsEdit(context.Background(), EditItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "editor"}, ItemID: "d1",
		Status: statusPtr(domain.StatusActive),
	})
	if err != nil {
		t.Fatalf("editor reactivation error = %v", err)
	}
	if updated.Archived() {
		t.Fatal("item still archived after editor reactivation")
	}
}

func TestItemsEditAssigneeDiff(t *testing.T) {
	f := newFixture()
	f.putItem(domain.Item{ID: "d1", Name: "Deal", StageID: "s1", Order: 100,
		AssignedUserIDs: []string{"u2", "u3"}})

	newAssignees := []string{"u3", "u4"}
	_, err := f.svc.ItemsEdit(context.Background(), EditItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "u1"}, ItemID: "d1",
		AssignedUserIDs: &newAssignees,
	})
	if err != nil {
		t.Fatalf("ItemsEdit() error = %v", err)
	}

	diffs := f.activity.byAction(domain.ActivityAssignee)
	if len(diffs) != 1 {
		t.Fatalf("expected exactly 1 assignee log, got %d", len(diffs))
	}
	delta, ok := diffs[0].Content.(domain.AssignmentDelta)
	if !ok {
		t.Fatalf("assignee log content has type %T", diffs[0].Content)
	}
	if len(delta.AddedUserIDs) != 1 || delta.AddedUserIDs[0] != "u4" {
		t.Fatalf("unexpected added %v", delta.AddedUserIDs)
	}
	if len(delta.RemovedUserIDs) != 1 || delta.RemovedUserIDs[0] != "u2" {
		t.Fatalf("unexpected removed %v", delta.RemovedUserIDs)
	}

	if len(f.notifs.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.notifs.sent))
	}
	receivers := f.notifs.sent[0].ReceiverIDs
	for _, id := range receivers {
		if id == "u2" {
			t.Fatalf("removed user still in receivers %v", receivers)
		}
	}
	if len(f.notifs.mobile) != 0 {
		t.Fatalf("mobile push should be skipped on assignment changes, got %d", len(f.notifs.mobile))
	}

	// An identical assignee set produces no assignment log and does push.
	f2 := newFixture()
	f2.putItem(domain.Item{ID: "d1", Name: "Deal", StageID: "s1", Order: 100,
		AssignedUserIDs: []string{"u2"}})
	same := []string{"u2"}
	if _, err := f2.svc.ItemsEdit(context.Background(), EditItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "u1", FullName: "Ann Lee"}, ItemID: "d1",
		AssignedUserIDs: &same,
	}); err != nil {
		t.Fatalf("ItemsEdit() error = %v", err)
	}
	if n := len(f2.activity.byAction(domain.ActivityAssignee)); n != 0 {
		t.Fatalf("expected no assignee log for unchanged set, got %d", n)
	}
	if len(f2.notifs.mobile) != 1 || f2.notifs.mobile[0].Body != "Ann Lee has updated" {
		t.Fatalf("unexpected mobile pushes %+v", f2.notifs.mobile)
	}
}

func TestItemsEditCrossPipelineEvents(t *testing.T) {
	f := newFixture()
	f.putItem(domain.Item{ID: "d1", Name: "Deal", StageID: "s1", Order: 100})

	updated, err := f.svc.ItemsEdit(context.Background(), EditItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "u1"}, ItemID: "d1",
		StageID: strptr("s3"),
	})
	if err != nil {
		t.Fatalf("ItemsEdit() error = %v", err)
	}
	if updated.StageID != "s3" {
		t.Fatalf("stage not updated: %q", updated.StageID)
	}

	removes := f.pub.byAction(domain.EventItemRemove)
	if len(removes) != 1 || removes[0].PipelineID != "p1" {
		t.Fatalf("expected itemRemove on old pipeline, got %+v", removes)
	}
	adds := f.pub.byAction(domain.EventItemAdd)
	if len(adds) != 1 || adds[0].PipelineID != "p2" {
		t.Fatalf("expected itemAdd on new pipeline, got %+v", adds)
	}
	if adds[0].Data.AboveItemID != "" {
		t.Fatalf("cross-pipeline add carries no anchor, got %q", adds[0].Data.AboveItemID)
	}
	if updates := f.pub.byAction(domain.EventItemUpdate); len(updates) != 0 {
		t.Fatalf("no itemUpdate expected on pipeline change, got %d", len(updates))
	}

	moved := f.activity.byAction(domain.ActivityMoved)
	if len(moved) != 1 {
		t.Fatalf("expected 1 moved log, got %d", len(moved))
	}
	movement, ok := moved[0].Content.(domain.MovementLogContent)
	if !ok {
		t.Fatalf("moved log content has type %T", moved[0].Content)
	}
	if movement.Text != "New to Parked" {
		t.Fatalf("unexpected movement text %q", movement.Text)
	}
	if movement.OldStageID != "s1" || movement.DestinationStageID != "s3" {
		t.Fatalf("unexpected movement stages %+v", movement)
	}
	if len(f.notifs.batches) != 1 || f.notifs.batches[0].ContentID != "d1" {
		t.Fatalf("expected 1 link rewrite, got %+v", f.notifs.batches)
	}
}

func TestItemsChangeReorderSameStage(t *testing.T) {
	f := newFixture()
	// Move permissions are restricted but a same-stage reorder ignores them.
	f.hier.stages["s1"] = domain.Stage{
		ID: "s1", PipelineID: "p1", Name: "New",
		CanMoveMemberIDs: []string{"mover"},
	}
	f.putItem(domain.Item{ID: "a", Name: "A", StageID: "s1", Order: 100})
	f.putItem(domain.Item{ID: "b", Name: "B", StageID: "s1", Order: 200})

	updated, err := f.svc.ItemsChange(context.Background(), MoveItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "outsider"}, ItemID: "b",
		DestinationStageID: "s1", SourceStageID: "s1", AboveItemID: "",
	})
	if err != nil {
		t.Fatalf("ItemsChange() error = %v", err)
	}
	if updated.Order != 99 {
		t.Fatalf("expected head order 99, got %v", updated.Order)
	}
	if updated.StageChangedDate != nil {
		t.Fatal("same-stage reorder must not stamp StageChangedDate")
	}

	events := f.pub.byAction(domain.EventOrderUpdated)
	if len(events) != 1 {
		t.Fatalf("expected 1 orderUpdated event, got %d", len(events))
	}
	data := events[0].Data
	if data.DestinationStageID != "s1" || data.OldStageID != "s1" {
		t.Fatalf("unexpected stage ids %+v", data)
	}

	if len(f.notifs.sent) != 0 {
		t.Fatalf("no receivers expected, got %d notifications", len(f.notifs.sent))
	}
}

func TestItemsChangeCrossStagePermissions(t *testing.T) {
	f := newFixture()
	f.hier.stages["s2"] = domain.Stage{
		ID: "s2", PipelineID: "p1", Name: "Won",
		CanMoveMemberIDs: []string{"closer"},
	}
	f.putItem(domain.Item{ID: "d1", Name: "Deal", StageID: "s1", Order: 100})

	_, err := f.svc.ItemsChange(context.Background(), MoveItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "u1"}, ItemID: "d1",
		DestinationStageID: "s2", SourceStageID: "s1",
	})
	if !IsPermissionDenied(err) {
		t.Fatalf("expected destination stage denial, got %v", err)
	}
	if f.items.byID["d1"].StageID != "s1" {
		t.Fatal("item moved despite denial")
	}

	moved, err := f.svc.ItemsChange(context.Background(), MoveItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "closer"}, ItemID: "d1",
		DestinationStageID: "s2", SourceStageID: "s1",
	})
	if err != nil {
		t.Fatalf("ItemsChange() error = %v", err)
	}
	if moved.StageID != "s2" {
		t.Fatalf("item not moved: %q", moved.StageID)
	}
	if moved.StageChangedDate == nil || !moved.StageChangedDate.Equal(fixedNow) {
		t.Fatalf("StageChangedDate not stamped: %v", moved.StageChangedDate)
	}
}

func TestItemsChangeMoveNotificationText(t *testing.T) {
	f := newFixture()
	f.putItem(domain.Item{ID: "d1", Name: "Deal", StageID: "s1", Order: 100,
		AssignedUserIDs: []string{"u2"}})

	_, err := f.svc.ItemsChange(context.Background(), MoveItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "u1", FullName: "Ann Lee"}, ItemID: "d1",
		DestinationStageID: "s2", SourceStageID: "s1",
	})
	if err != nil {
		t.Fatalf("ItemsChange() error = %v", err)
	}

	if len(f.notifs.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.notifs.sent))
	}
	n := f.notifs.sent[0]
	if n.Action != "moved 'Deal' from Sales-Main-New to " {
		t.Fatalf("unexpected action %q", n.Action)
	}
	if n.Content != "Sales-Main-Won" {
		t.Fatalf("unexpected content %q", n.Content)
	}
	if len(f.notifs.mobile) != 1 {
		t.Fatalf("expected 1 mobile push, got %d", len(f.notifs.mobile))
	}
	wantBody := "Ann Lee moved 'Deal' from Sales-Main-New to Sales-Main-Won"
	if f.notifs.mobile[0].Body != wantBody {
		t.Fatalf("unexpected push body %q", f.notifs.mobile[0].Body)
	}
}

func TestItemsChangeScoreRejectionAborts(t *testing.T) {
	f := newFixture()
	f.hier.pipelines["p1"] = domain.Pipeline{
		ID: "p1", BoardID: "b1", Name: "Main",
		PaymentTypes: []domain.PaymentType{
			{Type: "wallet", Title: "Wallet", ScoreCampaignID: "camp-1"},
		},
	}
	f.loyalty.campaigns["camp-1"] = &domain.ScoreCampaign{
		ID: "camp-1", Title: "Wallet",
		AdditionalConfig: domain.ScoreCampaignConfig{
			CardBasedRule: []domain.CardBasedRule{{StageIDs: []string{"s2"}}},
		},
	}
	f.loyalty.checkErr = errors.New(scoreShortageMessage)
	f.rel.customers["d1"] = []string{"cust-1"}
	f.putItem(domain.Item{ID: "d1", Name: "Deal", StageID: "s1", Order: 100,
		PaymentsData: map[string]domain.PaymentEntry{"wallet": {Amount: 50}}})

	_, err := f.svc.ItemsChange(context.Background(), MoveItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "u1"}, ItemID: "d1",
		DestinationStageID: "s2", SourceStageID: "s1",
	})
	if !errors.Is(err, ErrScoreShortage) {
		t.Fatalf("expected score shortage, got %v", err)
	}
	if !strings.Contains(err.Error(), "using Wallet") {
		t.Fatalf("shortage message missing payment title: %q", err.Error())
	}
	if f.loyalty.subtractCalls != 0 {
		t.Fatalf("subtract must not run after a failed check, got %d calls", f.loyalty.subtractCalls)
	}
	if f.items.applyCalls != 0 {
		t.Fatal("move persisted despite campaign rejection")
	}
	if f.items.byID["d1"].StageID != "s1" {
		t.Fatal("item left its stage despite campaign rejection")
	}
}

func TestItemsRemoveDeletesAndTearsDown(t *testing.T) {
	f := newFixture()
	f.putItem(domain.Item{ID: "d1", Name: "Deal", StageID: "s1", Order: 100,
		AssignedUserIDs: []string{"u2"}})

	removed, err := f.svc.ItemsRemove(context.Background(), RemoveItemInput{
		Kind: domain.KindDeal, Subdomain: "os",
		Actor: domain.User{ID: "u1", FullName: "Ann Lee"}, ItemID: "d1",
	})
	if err != nil {
		t.Fatalf("ItemsRemove() error = %v", err)
	}
	if removed.ID != "d1" {
		t.Fatalf("unexpected removed item %q", removed.ID)
	}
	if _, ok := f.items.byID["d1"]; ok {
		t.Fatal("item still stored after remove")
	}
	if len(f.rel.destroyed) != 1 || f.rel.destroyed[0] != "d1" {
		t.Fatalf("relations not torn down: %v", f.rel.destroyed)
	}
	if len(f.notifs.sent) != 1 || f.notifs.sent[0].Action != "deleted deal:" {
		t.Fatalf("unexpected delete notification %+v", f.notifs.sent)
	}
	if len(f.notifs.mobile) != 1 || f.notifs.mobile[0].Body != "Ann Lee deleted the deal" {
		t.Fatalf("unexpected push %+v", f.notifs.mobile)
	}
	if n := len(f.activity.byAction(domain.ActivityDelete)); n != 1 {
		t.Fatalf("expected 1 delete log, got %d", n)
	}
}

func TestItemsCopyClonesBelowSource(t *testing.T) {
	f := newFixture()
	f.rel.customers["d1"] = []string{"cust-1"}
	f.rel.companies["d1"] = []string{"comp-1"}
	f.putItem(domain.Item{ID: "d1", Name: "Deal", StageID: "s1", Order: 100,
		SourceConversationIDs: []string{"conv-1"},
		WatchedUserIDs:        []string{"u9"}})
	f.putItem(domain.Item{ID: "d2", Name: "Next", StageID: "s1", Order: 200})

	clone, err := f.svc.ItemsCopy(context.Background(), CopyItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "u1"}, ItemID: "d1",
	})
	if err != nil {
		t.Fatalf("ItemsCopy() error = %v", err)
	}
	if clone.Name != "Deal-copied" {
		t.Fatalf("unexpected clone name %q", clone.Name)
	}
	if clone.ID == "d1" || clone.ID == "" {
		t.Fatalf("clone id not regenerated: %q", clone.ID)
	}
	if clone.Order <= 100 || clone.Order >= 200 {
		t.Fatalf("clone order %v not directly below source", clone.Order)
	}
	if clone.SourceConversationIDs != nil {
		t.Fatal("conversation linkage must not be copied")
	}
	if len(clone.WatchedUserIDs) != 1 || clone.WatchedUserIDs[0] != "u1" {
		t.Fatalf("clone watchers reset to actor, got %v", clone.WatchedUserIDs)
	}

	if len(f.rel.conformities) != 1 {
		t.Fatalf("expected regenerated conformity, got %d", len(f.rel.conformities))
	}
	c := f.rel.conformities[0]
	if c.MainTypeID != clone.ID || len(c.CustomerIDs) != 1 || len(c.CompanyIDs) != 1 {
		t.Fatalf("unexpected conformity %+v", c)
	}
	if len(f.rel.copied) != 1 || f.rel.copied[0] != [2]string{"d1", clone.ID} {
		t.Fatalf("checklists not copied: %v", f.rel.copied)
	}

	adds := f.pub.byAction(domain.EventItemAdd)
	if len(adds) != 1 || adds[0].Data.AboveItemID != "d1" {
		t.Fatalf("expected itemAdd anchored on source, got %+v", adds)
	}
	conf := f.pub.byAction(domain.EventItemOfConformitiesUpdate)
	if len(conf) != 1 {
		t.Fatalf("expected conformities event, got %d", len(conf))
	}
	if conf[0].ProcessID == "proc" || conf[0].ProcessID == "" {
		t.Fatalf("conformities event must carry a fresh process id, got %q", conf[0].ProcessID)
	}
}

func TestItemsArchiveFansOutPerItem(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		f.putItem(domain.Item{
			ID:      fmt.Sprintf("d%d", i),
			Name:    fmt.Sprintf("Deal %d", i),
			StageID: "s1",
			Order:   float64(100 * (i + 1)),
		})
	}
	f.putItem(domain.Item{ID: "gone", Name: "Gone", StageID: "s1", Order: 50,
		Status: domain.StatusArchived})

	count, err := f.svc.ItemsArchive(context.Background(), ArchiveStageInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "u1"}, StageID: "s1",
	})
	if err != nil {
		t.Fatalf("ItemsArchive() error = %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 archived, got %d", count)
	}
	if f.items.archiveCalls != 1 {
		t.Fatalf("expected a single persistence call, got %d", f.items.archiveCalls)
	}
	events := f.pub.byAction(domain.EventItemsRemove)
	if len(events) != 3 {
		t.Fatalf("expected 3 itemsRemove events, got %d", len(events))
	}
	for _, e := range events {
		if e.Data.DestinationStageID != "s1" || e.ProcessID != "proc" {
			t.Fatalf("unexpected event %+v", e)
		}
	}
	if n := len(f.activity.byAction(domain.ActivityArchive)); n != 3 {
		t.Fatalf("expected 3 archive logs, got %d", n)
	}

	// A second pass has nothing left to archive.
	count, err = f.svc.ItemsArchive(context.Background(), ArchiveStageInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "u1"}, StageID: "s1",
	})
	if err != nil || count != 0 {
		t.Fatalf("second archive pass = %d, %v", count, err)
	}
}

func TestItemsEditDropsStaleLineAssignees(t *testing.T) {
	f := newFixture()
	f.putItem(domain.Item{ID: "d1", Name: "Deal", StageID: "s1", Order: 100,
		AssignedUserIDs: []string{"u1", "u2"},
		ProductsData: []domain.ProductData{
			{ID: "l1", ProductID: "prod-1", Quantity: 1, UnitPrice: 10, Amount: 10, AssignUserID: "u2"},
		}})

	newProducts := []domain.ProductData{
		{ID: "l1", ProductID: "prod-1", Quantity: 1, UnitPrice: 10, Amount: 10},
	}
	updated, err := f.svc.ItemsEdit(context.Background(), EditItemInput{
		Kind: domain.KindDeal, Subdomain: "os", ProcessID: "proc",
		Actor: domain.User{ID: "u1"}, ItemID: "d1",
		ProductsData: &newProducts,
	})
	if err != nil {
		t.Fatalf("ItemsEdit() error = %v", err)
	}
	// u2 only held the line assignment; dropping it drops the user.
	if len(updated.AssignedUserIDs) != 1 || updated.AssignedUserIDs[0] != "u1" {
		t.Fatalf("stale line assignee survived: %v", updated.AssignedUserIDs)
	}
}

func TestReconcileProductAssignees(t *testing.T) {
	cases := []struct {
		name     string
		assigned []string
		old      []domain.ProductData
		products []domain.ProductData
		want     []string
	}{
		{
			name:     "new line assignees merge deduplicated",
			assigned: []string{"u1", "", "u2", "u1"},
			products: []domain.ProductData{
				{AssignUserID: "u3"},
				{AssignUserID: "u2"},
				{AssignUserID: ""},
			},
			want: []string{"u1", "u2", "u3"},
		},
		{
			name:     "dropped line assignment removes the user",
			assigned: []string{"u1", "u2"},
			old:      []domain.ProductData{{ID: "l1", AssignUserID: "u2"}},
			products: []domain.ProductData{{ID: "l1"}},
			want:     []string{"u1"},
		},
		{
			name:     "assignment moved to another line survives",
			assigned: []string{"u1", "u2"},
			old:      []domain.ProductData{{ID: "l1", AssignUserID: "u2"}},
			products: []domain.ProductData{{ID: "l1"}, {ID: "l2", AssignUserID: "u2"}},
			want:     []string{"u1", "u2"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := reconcileProductAssignees(tc.assigned, tc.old, tc.products)
			if len(got) != len(tc.want) {
				t.Fatalf("reconcileProductAssignees() = %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("reconcileProductAssignees() = %v, want %v", got, tc.want)
				}
			}
		})
	}
}
