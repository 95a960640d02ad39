// Package testutil provides testing utilities for Hourglass.
package testutil

// Safe test credentials that won't trigger secret scanning on push.
// Keep them obviously fake.
const (
	// FakeGitHubToken is a test token for the GitHub API.
	FakeGitHubToken = "test-github-token"

	// FakeGitLabToken is a test private token for the GitLab API.
	FakeGitLabToken = "test-gitlab-token"

	// FakeJiraToken is a test API token for Jira.
	FakeJiraToken = "test-jira-api-token"

	// FakeAnthropicKey is a test API key for Anthropic.
	FakeAnthropicKey = "test-anthropic-api-key"

	// FakeOpenAIKey is a test API key for OpenAI.
	FakeOpenAIKey = "test-openai-api-key"

	// FakeJWTSecret is a test signing secret for gateway tokens.
	FakeJWTSecret = "test-jwt-signing-secret"

	// FakeWebhookSecret is a test HMAC secret for notification webhooks.
	FakeWebhookSecret = "test-webhook-secret"

	// FakeSMTPPassword is a test SMTP password.
	FakeSMTPPassword = "test-smtp-password"
)
