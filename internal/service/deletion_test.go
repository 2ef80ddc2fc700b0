package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlhmz/dockermc-dashboard/internal/apperror"
	"github.com/mlhmz/dockermc-dashboard/internal/dns"
	"github.com/mlhmz/dockermc-dashboard/internal/models"
)

func managedServer(uniqueID string) *models.MinecraftServer {
	server := testServer(uniqueID)
	server.DNSManaged = true
	return server
}

func TestDeleteWithDNSFailureIsPartial(t *testing.T) {
	h := newHarness(t)
	server := managedServer("abc123")
	h.withServer(t, server, models.StateRunning)
	require.NoError(t, h.dns.CreateRecord(context.Background(), dns.Record{Subdomain: server.SubdomainName, Owner: testOwner, Port: server.Port}))
	h.dns.DeleteErr = errors.New("registrar unavailable")

	report, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{})
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.True(t, report.Partial)
	assert.Equal(t, []string{StepContainer, StepDatabaseRecord, StepDNSRecord, StepFiles}, stepNames(report.Details))
	assert.True(t, findStep(report.Details, StepContainer).OK)
	assert.True(t, findStep(report.Details, StepDatabaseRecord).OK)
	assert.False(t, findStep(report.Details, StepDNSRecord).OK)
	assert.Contains(t, findStep(report.Details, StepDNSRecord).Error, "registrar unavailable")
	assert.True(t, findStep(report.Details, StepFiles).OK)

	_, ok := h.store.Get("abc123")
	assert.False(t, ok)
	assert.Nil(t, h.platform.Container("mc-abc123"))
	assert.Empty(t, h.storage.Paths())
}

func TestDeleteSucceeds(t *testing.T) {
	h := newHarness(t)
	server := managedServer("abc123")
	h.withServer(t, server, models.StateRunning)
	require.NoError(t, h.dns.CreateRecord(context.Background(), dns.Record{Subdomain: server.SubdomainName}))

	report, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{Reason: "cleanup"})
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.False(t, report.Partial)
	assert.Equal(t, "cleanup", report.Reason)
	_, ok := h.dns.Record(server.SubdomainName)
	assert.False(t, ok)

	// graceful stop before removal
	assert.Equal(t, 1, h.platform.Called("StopContainer"))
	require.NotNil(t, h.platform.LastTimeout)
	assert.Equal(t, defaultStopTimeout, *h.platform.LastTimeout)
}

func TestDeleteTwiceIsNotFound(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateRunning)

	_, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{})
	require.NoError(t, err)

	report, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{})
	assert.Nil(t, report)
	assert.True(t, apperror.IsNotFound(err, apperror.ResourceServer))
}

func TestDeleteRecordFailureSkipsCleanup(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, managedServer("abc123"), models.StateRunning)
	h.store.Fail("Delete", errors.New("database locked"))

	report, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{})
	require.Error(t, err)
	assert.Equal(t, apperror.KindPlatform, apperror.KindOf(err))

	require.NotNil(t, report)
	assert.False(t, findStep(report.Details, StepDatabaseRecord).OK)
	assert.True(t, findStep(report.Details, StepDNSRecord).Skipped)
	assert.True(t, findStep(report.Details, StepFiles).Skipped)
	assert.Empty(t, h.dns.Deleted)
	assert.NotEmpty(t, h.storage.Paths())
}

func TestDeleteUnmanagedDNSIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateExited)

	report, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{})
	require.NoError(t, err)
	assert.True(t, findStep(report.Details, StepDNSRecord).Skipped)
	assert.Empty(t, h.dns.Deleted)
	assert.Zero(t, h.platform.Called("StopContainer"))
}

func TestDeleteMissingDNSRecordIsOK(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, managedServer("abc123"), models.StateExited)

	report, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, []string{"survival-abc123"}, h.dns.Deleted)
}

func TestDeleteFilesFallsBackToRecursiveDelete(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateRunning)
	h.storage.Fail("ListDirectory", "", errors.New("PROPFIND refused"))

	report, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{})
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.True(t, findStep(report.Details, StepFiles).OK)
	assert.Empty(t, h.storage.Paths())
	assert.Contains(t, h.storage.Calls(), "DeleteDirectory /servers/alice_example_com/abc123")
}

func TestDeleteFilesBothStrategiesFail(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateRunning)
	h.storage.Fail("ListDirectory", "", errors.New("PROPFIND refused"))
	h.storage.Fail("DeleteDirectory", "", errors.New("DELETE refused"))

	report, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{})
	require.NoError(t, err)

	assert.True(t, report.Partial)
	files := findStep(report.Details, StepFiles)
	assert.False(t, files.OK)
	assert.Contains(t, files.Error, "PROPFIND refused")
	assert.Contains(t, files.Error, "DELETE refused")

	_, ok := h.store.Get("abc123")
	assert.False(t, ok)
}

func TestDeleteManifestRemovesNestedDirectories(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateRunning)

	_, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{})
	require.NoError(t, err)

	calls := h.storage.Calls()
	region := indexOf(calls, "DeleteDirectory /servers/alice_example_com/abc123/world/region")
	world := indexOf(calls, "DeleteDirectory /servers/alice_example_com/abc123/world")
	root := indexOf(calls, "DeleteDirectory /servers/alice_example_com/abc123")
	require.True(t, region >= 0 && world >= 0 && root >= 0, calls)
	assert.Less(t, region, world)
	assert.Less(t, world, root)
}

func TestDeleteForceSkipsGracefulStop(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateRunning)

	_, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{Force: true})
	require.NoError(t, err)
	assert.Zero(t, h.platform.Called("StopContainer"))
	assert.Equal(t, 1, h.platform.Called("RemoveContainer"))
}

func TestDeleteAbsentContainerIsOK(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateAbsent)

	report, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{})
	require.NoError(t, err)
	assert.True(t, findStep(report.Details, StepContainer).OK)
	assert.Zero(t, h.platform.Called("RemoveContainer"))
}

func TestDeleteContainerFailureStillRemovesRecord(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateExited)
	h.platform.Fail("RemoveContainer", errors.New("device busy"))

	report, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{})
	require.NoError(t, err)
	assert.True(t, report.Partial)
	assert.False(t, findStep(report.Details, StepContainer).OK)

	_, ok := h.store.Get("abc123")
	assert.False(t, ok)
}

func TestDeleteStack(t *testing.T) {
	h := newHarness(t)
	h.bootFiles(testOwner)
	spec := paperSpec("abc123", 25570)
	spec.DeploymentMethod = models.DeployStack
	_, err := h.provisioner.Provision(context.Background(), spec)
	require.NoError(t, err)

	report, err := h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 1, h.platform.Called("DeleteStack"))
	assert.Zero(t, h.platform.Called("RemoveContainer"))
	assert.Nil(t, h.platform.Container("mc-abc123"))
}

func TestDeleteRejectsOverlappingOperation(t *testing.T) {
	h := newHarness(t)
	h.withServer(t, testServer("abc123"), models.StateRunning)

	unlock, err := h.locks.TryLock("abc123", "attach")
	require.NoError(t, err)
	defer unlock()

	_, err = h.deletion.Delete(context.Background(), testOwner, "abc123", DeleteOptions{})
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	_, ok := h.store.Get("abc123")
	assert.True(t, ok)
}

func indexOf(items []string, want string) int {
	for i, item := range items {
		if item == want {
			return i
		}
	}
	return -1
}
