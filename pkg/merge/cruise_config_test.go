package merge

import (
	"bytes"
	"testing"

	"github.com/rzbill/cruise/pkg/configuration"
	"github.com/rzbill/cruise/pkg/crypto"
	"github.com/rzbill/cruise/pkg/packages"
	"github.com/rzbill/cruise/pkg/scm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext(t *testing.T) ValidationContext {
	t.Helper()
	c, err := crypto.NewAESCipher(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)
	return ValidationContext{Cipher: c}
}

func mainConfig(groups ...*PipelinePart) *PartialConfig {
	return &PartialConfig{Origin: FileOrigin{}, Groups: groups}
}

func remotePartial(groups ...*PipelinePart) *PartialConfig {
	return &PartialConfig{Origin: repoOrigin, Groups: groups}
}

func mustMerge(t *testing.T, main *PartialConfig, partials ...*PartialConfig) *CruiseConfig {
	t.Helper()
	c, err := Merge(main, partials...)
	require.NoError(t, err)
	return c
}

func TestMerge_GroupsByNameAcrossSources(t *testing.T) {
	c := mustMerge(t,
		mainConfig(part("group_main", nil, "pipe1"), part("shared", nil, "pipe2")),
		remotePartial(part("Shared", nil, "pipe3"), part("remote", nil, "pipe4")))

	require.Len(t, c.Groups(), 3)
	assert.Equal(t, []string{"pipe1", "pipe2", "pipe3", "pipe4"}, c.PipelineNames())

	shared := c.Group("SHARED")
	require.NotNil(t, shared)
	assert.Len(t, shared.Parts(), 2)
	origin, ok := shared.GetOrigin().(MergeOrigin)
	require.True(t, ok)
	assert.True(t, origin.Contains(FileOrigin{}))
	assert.True(t, origin.Contains(repoOrigin))

	remote := c.Group("remote")
	require.NotNil(t, remote)
	assert.Equal(t, repoOrigin, remote.GetOrigin())
	assert.Equal(t, repoOrigin, remote.Get(0).Origin)

	assert.True(t, c.IsPipelineDefinedInMain("pipe2"))
	assert.False(t, c.IsPipelineDefinedInMain("pipe3"))
	assert.Same(t, shared, c.FindGroupOfPipeline("pipe3"))
	assert.Nil(t, c.Group("missing"))
}

func TestMerge_EnvironmentsFromManyPartials(t *testing.T) {
	main := mainConfig()
	mainEnv := NewEnvironmentPart("UAT", nil)
	mainEnv.AddAgent("agent-1")
	main.Environments = []*EnvironmentPart{mainEnv}

	first := remotePartial()
	firstEnv := NewEnvironmentPart("UAT", nil)
	firstEnv.AddPipeline("pipe1")
	first.Environments = []*EnvironmentPart{firstEnv}

	second := &PartialConfig{Origin: RepoOrigin{Repo: ConfigRepo{URL: "http://other.git"}, Revision: "abc"}}
	secondEnv := NewEnvironmentPart("uat", nil)
	secondEnv.AddPipeline("pipe2")
	second.Environments = []*EnvironmentPart{secondEnv, NewEnvironmentPart("Prod", nil)}

	c := mustMerge(t, main, first, second)

	require.Len(t, c.Environments(), 2)
	uat := c.Environment("UAT")
	require.NotNil(t, uat)
	assert.Len(t, uat.Parts(), 3)
	assert.Equal(t, []string{"pipe1", "pipe2"}, uat.PipelineNames())
	assert.Equal(t, FileOrigin{}, uat.OriginForAgent("agent-1"))
	assert.Same(t, uat, c.EnvironmentForPipeline("pipe2"))
	assert.NotNil(t, c.Environment("prod"))
}

func TestCruiseConfig_PipelineByName(t *testing.T) {
	c := mustMerge(t, mainConfig(part("g", nil, "pipe1")))

	pc, err := c.PipelineByName("PIPE1")
	require.NoError(t, err)
	assert.Equal(t, "pipe1", pc.Name)
	assert.True(t, c.HasPipelineNamed("pipe1"))

	_, err = c.PipelineByName("nope")
	assert.EqualError(t, err, "Pipeline 'nope' not found.")
}

func TestCruiseConfig_VariablesFor(t *testing.T) {
	main := mainConfig(part("g", nil, "pipe1"))
	main.Groups[0].Pipelines[0].Variables = EnvironmentVariables{{Name: "shared", Value: "pipeline"}}
	env := NewEnvironmentPart("UAT", nil)
	env.AddPipeline("pipe1")
	env.AddEnvironmentVariable("shared", "environment")
	env.AddEnvironmentVariable("env-only", "1")
	main.Environments = []*EnvironmentPart{env}
	c := mustMerge(t, main)

	vars, err := c.VariablesFor("pipe1")
	require.NoError(t, err)
	assert.Equal(t, EnvironmentVariables{{Name: "shared", Value: "pipeline"}, {Name: "env-only", Value: "1"}}, vars)
}

func TestCruiseConfig_AddEnvironment(t *testing.T) {
	remote := remotePartial()
	remote.Environments = []*EnvironmentPart{NewEnvironmentPart("UAT", nil)}
	c := mustMerge(t, mainConfig(), remote)

	_, err := c.AddEnvironment("uat")
	assert.EqualError(t, err, "Environment with name 'uat' already exists.")

	env, err := c.AddEnvironment("prod")
	require.NoError(t, err)
	assert.Equal(t, "prod", env.Name())
	assert.Len(t, c.Main().Environments, 1)
	assert.True(t, env.IsLocal())
}

func TestCruiseConfig_GroupsAffectedByDeletionOfRole(t *testing.T) {
	auth := &Authorization{View: AdminsConfig{Roles: []string{"dev"}}, Admin: AdminsConfig{Roles: []string{"dev"}}}
	c := mustMerge(t, mainConfig(NewPipelinePart("g1", auth, nil), part("g2", nil)))

	assert.Equal(t, map[string][]Privilege{"g1": {PrivilegeView, PrivilegeAdmin}}, c.GroupsAffectedByDeletionOfRole("DEV"))
}

func TestValidate_PipelineNameConflictAcrossGroups(t *testing.T) {
	c := mustMerge(t, mainConfig(part("defaultGroup", nil, "pipeline-1")), remotePartial(part("g2", nil, "pipeline-1")))

	failures, err := c.Validate(testContext(t))
	require.NoError(t, err)

	require.Len(t, failures, 2)
	msg := "You have defined multiple pipelines named 'pipeline-1'. Pipeline names must be unique. Source(s): [http://some.git at 1234fed, cruise-config.xml]"
	for _, f := range failures {
		assert.Equal(t, []string{msg}, f.Errors.On(FieldName))
	}
	assert.Equal(t, "pipeline 'pipeline-1'", failures[0].Entity)
	assert.Equal(t, "cruise-config.xml", failures[0].Origin)
	assert.Equal(t, "http://some.git at 1234fed", failures[1].Origin)
}

func TestValidate_PipelineNameConflictInSameMergedGroup(t *testing.T) {
	c := mustMerge(t, mainConfig(part("defaultGroup", nil, "pipeline1")), remotePartial(part("defaultGroup", nil, "pipeline1")))

	failures, err := c.Validate(testContext(t))
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Len(t, c.Partials()[0].Groups[0].Pipelines[0].Errors().All(), 1)
}

func TestValidate_IsRepeatable(t *testing.T) {
	c := mustMerge(t, mainConfig(part("", nil, "p")))

	first, err := c.Validate(testContext(t))
	require.NoError(t, err)
	second, err := c.Validate(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, first, 1)
	assert.Equal(t, "group ''", first[0].Entity)
}

func TestValidate_OriginErrorFromLocalEnvironmentToRemotePipeline(t *testing.T) {
	main := mainConfig(part("group_main", nil, "pipe1"))
	env := NewEnvironmentPart("UAT", nil)
	env.AddPipeline("pipe2")
	main.Environments = []*EnvironmentPart{env}
	c := mustMerge(t, main, remotePartial(part("g2", nil, "pipe2")))

	failures, err := c.Validate(testContext(t))
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "environment 'UAT'", failures[0].Entity)
	assert.NotEmpty(t, failures[0].Errors.On(FieldOrigin))
}

func TestValidate_OriginErrorFromLocalDependencyOnRemotePipeline(t *testing.T) {
	main := mainConfig(part("group_main", nil, "pipeline1"))
	main.Groups[0].Pipelines[0].Materials.Dependencies = []DependencyMaterial{{Pipeline: "pipeline2", Stage: "stage"}}
	c := mustMerge(t, main, remotePartial(part("g2", nil, "pipeline2")))

	failures, err := c.Validate(testContext(t))
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "Pipeline 'pipeline1' defined in cruise-config.xml cannot depend on pipeline 'pipeline2' defined in http://some.git at 1234fed.",
		failures[0].Errors.FirstOn(FieldOrigin))
}

func TestValidate_UnknownEnvironmentPipelineAndDependency(t *testing.T) {
	main := mainConfig(part("g", nil, "pipe1"))
	main.Groups[0].Pipelines[0].Materials.Dependencies = []DependencyMaterial{{Pipeline: "ghost", Stage: "s"}}
	env := NewEnvironmentPart("UAT", nil)
	env.AddPipeline("missing")
	main.Environments = []*EnvironmentPart{env}
	c := mustMerge(t, main)

	failures, err := c.Validate(testContext(t))
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "Pipeline with name 'ghost' does not exist, it is defined as a dependency for pipeline 'pipe1' (cruise-config.xml)",
		failures[0].Errors.FirstOn(FieldMaterials))
	assert.Equal(t, "Environment 'UAT' refers to an unknown pipeline 'missing'.", failures[1].Errors.FirstOn(FieldPipeline))
}

func TestValidate_DependencyCycle(t *testing.T) {
	main := mainConfig(part("g", nil, "a", "b", "c"))
	ps := main.Groups[0].Pipelines
	ps[0].Materials.Dependencies = []DependencyMaterial{{Pipeline: "b", Stage: "s"}}
	ps[1].Materials.Dependencies = []DependencyMaterial{{Pipeline: "A", Stage: "s"}}
	ps[2].Materials.Dependencies = []DependencyMaterial{{Pipeline: "a", Stage: "s"}}
	c := mustMerge(t, main)

	failures, err := c.Validate(testContext(t))
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "pipeline 'a' materials", failures[0].Entity)
	assert.Equal(t, "Circular dependency detected: a -> b -> a", failures[0].Errors.FirstOn(FieldMaterials))
}

func TestValidate_ResolvesSCMAndPackageMaterials(t *testing.T) {
	vc := testContext(t)
	plugin := configuration.PluginConfiguration{ID: "git-plugin", Version: "1.0"}
	s := scm.New("scm-1", plugin, configuration.New(configuration.NewProperty("url", "http://x")))
	s.Name = "scm_one"
	repo := packages.NewPackageRepository("repo-1", "repo", configuration.PluginConfiguration{ID: "yum"}, nil)
	repo.AddPackage(packages.NewPackageDefinition("pkg-1", "pkg", nil))

	remote := remotePartial(part("g", nil, "pipe"))
	remote.SCMs = scm.SCMs{s}
	remote.Repositories = packages.PackageRepositories{repo}
	pc := remote.Groups[0].Pipelines[0]
	pc.Materials.SCM = []*scm.PluggableSCMMaterialConfig{{SCMID: "scm-1"}, {SCMID: "nope"}}
	pc.Materials.Packages = []*PackageMaterial{{PackageID: "pkg-1"}, {PackageID: "pkg-x"}}
	c := mustMerge(t, mainConfig(), remote)

	failures, err := c.Validate(vc)
	require.NoError(t, err)

	assert.Same(t, s, pc.Materials.SCM[0].SCM)
	assert.Equal(t, "pkg", pc.Materials.Packages[0].Package.Name)
	require.Len(t, failures, 1)
	assert.Equal(t, []string{
		"Failed to find referenced scm 'nope'",
		"Failed to find package repository with package id 'pkg-x'",
	}, failures[0].Errors.On(FieldMaterials))
	assert.Equal(t, "http://some.git at 1234fed", failures[0].Origin)
}

func TestValidate_ReportsSCMErrorsWithTheirOrigin(t *testing.T) {
	s := scm.New("scm-1", configuration.PluginConfiguration{ID: "git-plugin"}, nil)
	remote := remotePartial()
	remote.SCMs = scm.SCMs{s}
	c := mustMerge(t, mainConfig(), remote)

	failures, err := c.Validate(testContext(t))
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "scm ''", failures[0].Entity)
	assert.Equal(t, "http://some.git at 1234fed", failures[0].Origin)
	assert.Equal(t, "Please provide name", failures[0].Errors.FirstOn(scm.FieldName))
}
