package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/appfoundry/buildfleet/pkg/pipeline"
	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

// signingIdentity is the macOS code-signing identity name carried over
// from the source, which uses "Mac Developer" for both development and
// distribution builds; documented and preserved unchanged rather than
// silently fixed (spec.md §9, Open Question (c)). No command in this
// file passes it to the signing tools.
const signingIdentity = "Mac Developer"

var provisioningUUIDPattern = regexp.MustCompile(`(?i)[-A-Z0-9]{36}`)

// Apple covers both iOS and OSX: when signed, it creates a dedicated
// keychain, imports the p12, installs the provisioning profile keyed by
// its UUID, rewrites xcconfig files to disable signing during archive,
// then archives and exports. Keychain/profile cleanup always runs on
// every exit path (spec.md §4.4 "Apple (iOS/OSX)").
type Apple struct {
	TargetPlatform types.Platform // types.IOS or types.OSX
}

func (a *Apple) Platform() types.Platform { return a.TargetPlatform }

// BuildJSON emits the ios/osx signing descriptor when the job is signed.
func (a *Apple) BuildJSON(j *types.Job) ([]byte, error) {
	doc := map[string]any{}
	if j.Signed && j.Key != nil && j.Key.Apple != nil {
		doc[string(a.TargetPlatform)] = map[string]string{
			"p12":          a.p12Path(j),
			"provisioning": a.provisioningPath(j),
		}
	}
	return json.Marshal(doc)
}

func (a *Apple) p12Path(j *types.Job) string {
	return filepath.Join(j.CertsPath, "release.p12")
}

func (a *Apple) provisioningPath(j *types.Job) string {
	return filepath.Join(j.CertsPath, "release.mobileprovision")
}

// downloadSigningMaterial fetches the p12 and provisioning profile into
// j.CertsPath the same way init/create fetch config.xml/source.zip
// (spec.md §4.4 "build").
func (a *Apple) downloadSigningMaterial(ctx context.Context, j *types.Job) error {
	if j.Key == nil || j.Key.Apple == nil {
		return nil
	}
	if err := utils.EnsureDirExists(j.CertsPath); err != nil {
		return err
	}
	if err := pipeline.FetchInto(ctx, j.Key.Apple.P12, a.p12Path(j)); err != nil {
		return fmt.Errorf("download p12: %w", err)
	}
	return pipeline.FetchInto(ctx, j.Key.Apple.Provisioning, a.provisioningPath(j))
}

func (a *Apple) Build(ctx context.Context, j *types.Job, out, outErr *os.File) error {
	if !j.Signed {
		fmt.Fprintln(out, "apple: building unsigned archive")
		return a.archiveAndExport(ctx, j, out, outErr)
	}

	if err := a.downloadSigningMaterial(ctx, j); err != nil {
		return fmt.Errorf("download signing material: %w", err)
	}

	keychain, err := a.createKeychain(j, out)
	if err != nil {
		return fmt.Errorf("create keychain: %w", err)
	}
	var profileUUID string
	// Cleanup runs on every exit path, continuing past a sub-error
	// rather than returning it, matching the source's finally-style
	// cleanup (spec.md §9, Open Question (b)). profileUUID is read at
	// call time, after installProvisioningProfile below sets it.
	defer func() { a.cleanup(j, keychain, profileUUID, out) }()

	if err := a.importP12(j, keychain, out); err != nil {
		return fmt.Errorf("import p12: %w", err)
	}

	uuid, err := a.installProvisioningProfile(j, out)
	if err != nil {
		return fmt.Errorf("install provisioning profile: %w", err)
	}
	profileUUID = uuid
	fmt.Fprintf(out, "apple: installed provisioning profile %s\n", uuid)

	if err := a.writeSchemeFile(j); err != nil {
		return fmt.Errorf("write scheme file: %w", err)
	}

	if err := a.disableSigningInXCConfigs(j); err != nil {
		return fmt.Errorf("rewrite xcconfig: %w", err)
	}

	return a.archiveAndExport(ctx, j, out, outErr)
}

func (a *Apple) createKeychain(j *types.Job, out *os.File) (string, error) {
	keychain := filepath.Join(j.CertsPath, j.Code+".keychain")
	if err := utils.EnsureDirExists(j.CertsPath); err != nil {
		return "", err
	}
	if _, err := utils.RunCmd([]string{"security", "create-keychain", "-p", "", keychain}); err != nil {
		fmt.Fprintf(out, "apple: create-keychain: %s\n", err)
	}
	return keychain, nil
}

func (a *Apple) importP12(j *types.Job, keychain string, out *os.File) error {
	if j.Key == nil || j.Key.Apple == nil {
		return nil
	}
	_, err := utils.RunCmd([]string{
		"security", "import", a.p12Path(j),
		"-k", keychain, "-P", j.Key.Apple.Password, "-A",
	})
	return err
}

// installedProfilePath is where installProvisioningProfile copies the
// profile to and cleanup removes it from, keyed by the profile's UUID
// (spec.md §4.4 "Apple (iOS/OSX)").
func installedProfilePath(uuid string) string {
	return filepath.Join(os.Getenv("HOME"), "Library/MobileDevice/Provisioning Profiles", uuid+".mobileprovision")
}

// installProvisioningProfile extracts the profile's UUID the same way
// the source does: grep for "UUID" followed by the next line, then the
// first UUID-shaped token on it (spec.md §4.4).
func (a *Apple) installProvisioningProfile(j *types.Job, out *os.File) (string, error) {
	if j.Key == nil || j.Key.Apple == nil {
		return "", nil
	}
	rawOut, err := utils.RunCmd([]string{
		"sh", "-c",
		fmt.Sprintf("security cms -D -i %q | grep UUID -A1", a.provisioningPath(j)),
	})
	if err != nil {
		return "", err
	}
	uuid := provisioningUUIDPattern.FindString(rawOut)
	if uuid == "" {
		return "", fmt.Errorf("could not extract provisioning profile UUID")
	}

	dest := installedProfilePath(uuid)
	if err := utils.EnsureDirExists(filepath.Dir(dest)); err != nil {
		return uuid, err
	}
	_, err = utils.RunCmd([]string{"cp", a.provisioningPath(j), dest})
	return uuid, err
}

// schemeTemplate is the Xcode scheme written into the workspace before
// archiving, so xcodebuild has a concrete, job-named scheme to archive
// (spec.md §4.4 "Apple (iOS/OSX)": "write a build scheme file from a
// template").
const schemeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Scheme LastUpgradeVersion="1010" version="1.3">
   <BuildAction>
      <BuildActionEntries>
      </BuildActionEntries>
   </BuildAction>
   <ArchiveAction buildConfiguration="Release" revealArchiveInOrganizer="YES">
   </ArchiveAction>
</Scheme>
`

func (a *Apple) writeSchemeFile(j *types.Job) error {
	return os.WriteFile(filepath.Join(j.WorkspacePath, j.Code+".xcscheme"), []byte(schemeTemplate), 0644)
}

// exportOptionsPlistTemplate drives `xcodebuild -exportArchive`. "method"
// is fixed to "development" regardless of signing state, the same
// documented simplification as signingIdentity (spec.md §9, Open
// Question (c)) — a real fleet would derive it from the provisioning
// profile's distribution type.
const exportOptionsPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>method</key>
	<string>development</string>
	<key>signingStyle</key>
	<string>manual</string>
	<key>compileBitcode</key>
	<false/>
</dict>
</plist>
`

func (a *Apple) exportOptionsPlistPath(j *types.Job) string {
	return filepath.Join(j.RootPath, "export_options.plist")
}

// writeExportOptionsPlist writes the plist `-exportArchive` requires,
// the "run export with a generated export_options.plist" step spec.md
// §4.4 names for iOS.
func (a *Apple) writeExportOptionsPlist(j *types.Job) error {
	return os.WriteFile(a.exportOptionsPlistPath(j), []byte(exportOptionsPlistTemplate), 0644)
}

func (a *Apple) disableSigningInXCConfigs(j *types.Job) error {
	return filepath.Walk(j.WorkspacePath, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".xcconfig" {
			return nil
		}
		f, ferr := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		_, ferr = f.WriteString("\nCODE_SIGNING_ALLOWED = NO\n")
		return ferr
	})
}

func (a *Apple) archiveAndExport(ctx context.Context, j *types.Job, out, outErr *os.File) error {
	var cmd []string
	if a.TargetPlatform == types.IOS {
		cmd = []string{"xcodebuild", "-workspace", j.WorkspacePath, "archive", "-allowProvisioningUpdates"}
	} else {
		cmd = []string{"xcodebuild", "-workspace", j.WorkspacePath, "archive"}
	}

	rawOut, err := utils.RunCmd(cmd)
	fmt.Fprint(out, utils.Redact(rawOut, j.RootPath))
	if err != nil {
		return err
	}

	if a.TargetPlatform == types.IOS {
		if err := a.writeExportOptionsPlist(j); err != nil {
			return fmt.Errorf("write export options plist: %w", err)
		}
		_, err = utils.RunCmd([]string{"xcodebuild", "-exportArchive", "-exportOptionsPlist", a.exportOptionsPlistPath(j)})
	} else {
		_, err = utils.RunCmd([]string{"productbuild", "--component", j.WorkspacePath, j.OutPath})
	}
	return err
}

// cleanup always uninstalls the provisioning profile and deletes the
// keychain, logging (not returning) any sub-error (spec.md §4.4, §9
// Open Question (b)). profileUUID is empty when installation never
// got far enough to produce one, in which case uninstalling is skipped.
func (a *Apple) cleanup(j *types.Job, keychain, profileUUID string, out *os.File) {
	if profileUUID != "" {
		if err := os.Remove(installedProfilePath(profileUUID)); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(out, "apple: cleanup: uninstall profile: %s\n", err)
		}
	}
	if _, err := utils.RunCmd([]string{"security", "delete-keychain", keychain}); err != nil {
		fmt.Fprintf(out, "apple: cleanup: delete-keychain: %s\n", err)
	}
}

func (a *Apple) Pack(j *types.Job) (string, error) {
	var artifacts []string
	err := filepath.Walk(j.OutPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && (filepath.Ext(path) == ".ipa" || filepath.Ext(path) == ".pkg" || filepath.Ext(path) == ".app") {
			artifacts = append(artifacts, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(artifacts) == 0 {
		return "", fmt.Errorf("no build artifacts found under %s", j.OutPath)
	}

	dest := filepath.Join(j.OutPath, j.ArtifactName(epochMillisNow()))
	if err := zipFiles(dest, artifacts, j.OutPath); err != nil {
		return "", err
	}
	return dest, nil
}
