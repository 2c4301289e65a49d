package service

import (
	"errors"
	"testing"
	"time"

	"github.com/ritualmate/internal/db"
)

func newTestPartnershipService(t *testing.T, scheduler *StreakScheduler) *PartnershipService {
	t.Helper()
	notifier := NewNotificationService(db.DB, noCache(), PushConfig{})
	svc := NewPartnershipService(db.DB, scheduler, notifier)
	svc.SetClock(fixedClock(testMonday))
	return svc
}

func TestInviteRedeemFlow(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	scheduler := newTestScheduler(t)
	defer scheduler.Stop()

	alice := createTestUser(t, "inv_alice")
	bob := createTestUser(t, "inv_bob")
	ritualA := createTestRitual(t, alice.ID, "晨跑", "07:00", "")
	ritualB := createTestRitual(t, bob.ID, "晨泳", "07:30", "")

	scheduler.ScheduleRitual(ritualA)
	scheduler.ScheduleRitual(ritualB)

	svc := newTestPartnershipService(t, scheduler)

	invite, err := svc.CreateInvite(alice.ID, ritualA.ID)
	if err != nil {
		t.Fatalf("CreateInvite returned error: %v", err)
	}
	if invite.Code == "" {
		t.Fatal("expected non-empty invite code")
	}
	if invite.Status != db.InviteStatusPending {
		t.Fatalf("expected pending invite, got %s", invite.Status)
	}

	p, err := svc.RedeemInvite(bob.ID, ritualB.ID, invite.Code)
	if err != nil {
		t.Fatalf("RedeemInvite returned error: %v", err)
	}
	if p.UserAID != alice.ID || p.UserBID != bob.ID {
		t.Fatalf("unexpected members: %d/%d", p.UserAID, p.UserBID)
	}
	if p.Status != db.PartnershipStatusActive {
		t.Fatalf("expected active partnership, got %s", p.Status)
	}
	if p.FreezeCount != 2 {
		t.Fatalf("expected 2 starter freezes, got %d", p.FreezeCount)
	}

	// 两个个人定时器被搭档定时器替换
	if scheduler.Pending() != 1 {
		t.Fatalf("expected solo timers swapped for one partnership timer, got %d", scheduler.Pending())
	}

	var gotInvite db.PartnershipInvite
	db.DB.First(&gotInvite, invite.ID)
	if gotInvite.Status != db.InviteStatusAccepted {
		t.Fatalf("expected invite accepted, got %s", gotInvite.Status)
	}
	if countNotifications(t, alice.ID, db.NotifTypePartnerRequest) != 1 {
		t.Fatal("expected inviter to be notified")
	}

	// 已接受的邀请码不能再次兑换
	if _, err := svc.RedeemInvite(bob.ID, ritualB.ID, invite.Code); !errors.Is(err, ErrInviteNotFound) {
		t.Fatalf("expected ErrInviteNotFound on reuse, got %v", err)
	}
}

func TestRedeemInviteRejections(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	alice := createTestUser(t, "rej_alice")
	bob := createTestUser(t, "rej_bob")
	ritualA := createTestRitual(t, alice.ID, "早读", "07:00", "")
	ritualB := createTestRitual(t, bob.ID, "早读", "07:00", "")

	svc := newTestPartnershipService(t, nil)

	invite, err := svc.CreateInvite(alice.ID, ritualA.ID)
	if err != nil {
		t.Fatalf("CreateInvite returned error: %v", err)
	}

	// 自己兑换自己的邀请码
	if _, err := svc.RedeemInvite(alice.ID, ritualA.ID, invite.Code); !errors.Is(err, ErrInviteSelfRedeem) {
		t.Fatalf("expected ErrInviteSelfRedeem, got %v", err)
	}

	// 不存在的邀请码
	if _, err := svc.RedeemInvite(bob.ID, ritualB.ID, "no-such-code"); !errors.Is(err, ErrInviteNotFound) {
		t.Fatalf("expected ErrInviteNotFound, got %v", err)
	}

	// 用别人的仪式兑换
	if _, err := svc.RedeemInvite(bob.ID, ritualA.ID, invite.Code); !errors.Is(err, ErrRitualNotOwned) {
		t.Fatalf("expected ErrRitualNotOwned, got %v", err)
	}

	// 过期的邀请码
	db.DB.Model(&db.PartnershipInvite{}).Where("id = ?", invite.ID).
		Update("expires_at", testMonday.Add(-time.Hour))
	if _, err := svc.RedeemInvite(bob.ID, ritualB.ID, invite.Code); !errors.Is(err, ErrInviteExpired) {
		t.Fatalf("expected ErrInviteExpired, got %v", err)
	}
}

func TestRedeemInviteRefusesPartneredRitual(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	alice := createTestUser(t, "busy_alice")
	bob := createTestUser(t, "busy_bob")
	carol := createTestUser(t, "busy_carol")
	ritualA := createTestRitual(t, alice.ID, "晨跑", "07:00", "")
	ritualB := createTestRitual(t, bob.ID, "晨跑", "07:00", "")
	ritualC := createTestRitual(t, carol.ID, "晨跑", "07:00", "")

	svc := newTestPartnershipService(t, nil)

	invite, err := svc.CreateInvite(alice.ID, ritualA.ID)
	if err != nil {
		t.Fatalf("CreateInvite returned error: %v", err)
	}

	// B 的仪式抢先和 C 结对
	createTestPartnership(t, ritualB, ritualC)

	if _, err := svc.RedeemInvite(bob.ID, ritualB.ID, invite.Code); !errors.Is(err, ErrRitualPartnered) {
		t.Fatalf("expected ErrRitualPartnered, got %v", err)
	}

	// 已结对的仪式也不能再签发邀请
	if _, err := svc.CreateInvite(bob.ID, ritualB.ID); !errors.Is(err, ErrRitualPartnered) {
		t.Fatalf("expected ErrRitualPartnered on invite, got %v", err)
	}
}

func TestEndPartnershipRestoresSoloTimers(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	scheduler := newTestScheduler(t)
	defer scheduler.Stop()

	alice := createTestUser(t, "end_alice")
	bob := createTestUser(t, "end_bob")
	ritualA := createTestRitual(t, alice.ID, "晚课", "20:00", "")
	ritualB := createTestRitual(t, bob.ID, "晚课", "20:30", "")
	p := createTestPartnership(t, ritualA, ritualB)
	scheduler.SchedulePartnership(p)

	svc := newTestPartnershipService(t, scheduler)

	if err := svc.End(alice.ID, p.ID); err != nil {
		t.Fatalf("End returned error: %v", err)
	}

	var got db.Partnership
	db.DB.First(&got, p.ID)
	if got.Status != db.PartnershipStatusEnded {
		t.Fatalf("expected ended status, got %s", got.Status)
	}

	// 搭档定时器换回两个个人定时器
	if scheduler.Pending() != 2 {
		t.Fatalf("expected 2 solo timers after end, got %d", scheduler.Pending())
	}
	if countNotifications(t, bob.ID, db.NotifTypePartnerEnded) != 1 {
		t.Fatal("expected the other member to be notified")
	}

	// 重复解除是 no-op
	if err := svc.End(alice.ID, p.ID); err != nil {
		t.Fatalf("second End returned error: %v", err)
	}
	if countNotifications(t, bob.ID, db.NotifTypePartnerEnded) != 1 {
		t.Fatal("repeated End must not re-notify")
	}
}

func TestEndPartnershipRequiresMembership(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	alice := createTestUser(t, "mem_alice")
	bob := createTestUser(t, "mem_bob")
	mallory := createTestUser(t, "mem_mallory")
	ritualA := createTestRitual(t, alice.ID, "打卡", "20:00", "")
	ritualB := createTestRitual(t, bob.ID, "打卡", "20:00", "")
	p := createTestPartnership(t, ritualA, ritualB)

	svc := newTestPartnershipService(t, nil)
	if err := svc.End(mallory.ID, p.ID); !errors.Is(err, ErrPartnershipNotMember) {
		t.Fatalf("expected ErrPartnershipNotMember, got %v", err)
	}
}

func TestUseFreezeConsumesAndLogs(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	alice := createTestUser(t, "fz_alice")
	bob := createTestUser(t, "fz_bob")
	ritualA := createTestRitual(t, alice.ID, "健身", "19:00", "")
	ritualB := createTestRitual(t, bob.ID, "健身", "19:00", "")
	p := createTestPartnership(t, ritualA, ritualB)
	db.DB.Model(&db.Partnership{}).Where("id = ?", p.ID).Update("current_streak", 11)

	svc := newTestPartnershipService(t, nil)

	if err := svc.UseFreeze(alice.ID, p.ID); err != nil {
		t.Fatalf("UseFreeze returned error: %v", err)
	}

	var got db.Partnership
	db.DB.First(&got, p.ID)
	if got.FreezeCount != 1 {
		t.Fatalf("expected freeze count 1, got %d", got.FreezeCount)
	}
	if got.LastFreezeUsedAt == nil || !db.SameDate(*got.LastFreezeUsedAt, testMonday) {
		t.Fatal("expected last_freeze_used_at stamped today")
	}

	history, err := svc.FreezeHistory(alice.ID)
	if err != nil {
		t.Fatalf("FreezeHistory returned error: %v", err)
	}
	if len(history) != 1 || history[0].StreakPreserved != 11 {
		t.Fatalf("expected one freeze log preserving 11, got %+v", history)
	}

	// 用光之后拒绝
	db.DB.Model(&db.Partnership{}).Where("id = ?", p.ID).Update("freeze_count", 0)
	if err := svc.UseFreeze(alice.ID, p.ID); !errors.Is(err, ErrNoFreezeAvailable) {
		t.Fatalf("expected ErrNoFreezeAvailable, got %v", err)
	}
}

func TestUsePersonalFreeze(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	user := createTestUser(t, "pfz_user")
	db.DB.Model(&db.User{}).Where("id = ?", user.ID).Update("current_streak", 20)

	svc := newTestPartnershipService(t, nil)

	if err := svc.UsePersonalFreeze(user.ID); err != nil {
		t.Fatalf("UsePersonalFreeze returned error: %v", err)
	}

	var got db.User
	db.DB.First(&got, user.ID)
	if got.FreezeCount != 1 {
		t.Fatalf("expected freeze count 1, got %d", got.FreezeCount)
	}
	// 冻结视同当天已兑现
	if got.LastCompletedAt == nil || !db.SameDate(*got.LastCompletedAt, testMonday) {
		t.Fatal("expected last_completed_at stamped today")
	}

	db.DB.Model(&db.User{}).Where("id = ?", user.ID).Update("freeze_count", 0)
	if err := svc.UsePersonalFreeze(user.ID); !errors.Is(err, ErrNoFreezeAvailable) {
		t.Fatalf("expected ErrNoFreezeAvailable, got %v", err)
	}
}

func TestEarnFreezeCapped(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	alice := createTestUser(t, "cap_alice")
	bob := createTestUser(t, "cap_bob")
	ritualA := createTestRitual(t, alice.ID, "晨跑", "07:00", "")
	ritualB := createTestRitual(t, bob.ID, "晨跑", "07:00", "")
	p := createTestPartnership(t, ritualA, ritualB)

	svc := newTestPartnershipService(t, nil)

	if err := svc.EarnFreeze(p.ID); err != nil {
		t.Fatalf("EarnFreeze returned error: %v", err)
	}

	var got db.Partnership
	db.DB.First(&got, p.ID)
	if got.FreezeCount != 3 {
		t.Fatalf("expected freeze count 3, got %d", got.FreezeCount)
	}

	// 已到上限时不再增加
	if err := svc.EarnFreeze(p.ID); err != nil {
		t.Fatalf("EarnFreeze returned error: %v", err)
	}
	db.DB.First(&got, p.ID)
	if got.FreezeCount != db.MaxFreezeCount {
		t.Fatalf("expected cap at %d, got %d", db.MaxFreezeCount, got.FreezeCount)
	}
}
