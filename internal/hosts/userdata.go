package hosts

import (
	"bytes"
	"fmt"
	"text/template"
)

const cloudConfigTemplate = `#cloud-config
ssh_pwauth: no
users:
  - name: {{.Username}}
    sudo: ALL=(ALL) NOPASSWD:ALL
    shell: /bin/bash
    groups: docker
    ssh_authorized_keys:
      - "{{.PublicKey}}"
runcmd:
  - curl -fsSL https://releases.rancher.com/install-docker/20.10.sh | sh
  - usermod -aG docker {{.Username}}`

// Windows nodes get OpenSSH with PowerShell as the default shell so that the
// same SSH controller can drive them.
const windowsUserDataTemplate = `<powershell>
Add-WindowsCapability -Online -Name OpenSSH.Server~~~~0.0.1.0
Set-Content -Path C:\ProgramData\ssh\administrators_authorized_keys -Value "{{.PublicKey}}"
icacls.exe C:\ProgramData\ssh\administrators_authorized_keys /inheritance:r /grant "Administrators:F" /grant "SYSTEM:F"
New-ItemProperty -Path "HKLM:\SOFTWARE\OpenSSH" -Name DefaultShell -Value "C:\Windows\System32\WindowsPowerShell\v1.0\powershell.exe" -PropertyType String -Force
Set-Service -Name sshd -StartupType Automatic
Start-Service sshd
</powershell>`

// UserData represents the data for user-data templates
type UserData struct {
	Username  string
	PublicKey string
}

// GenerateCloudConfig generates cloud-config user-data for Linux nodes
func GenerateCloudConfig(username, publicKey string) (string, error) {
	return render("cloud-config", cloudConfigTemplate, UserData{Username: username, PublicKey: publicKey})
}

// GenerateWindowsUserData generates the PowerShell bootstrap for Windows nodes
func GenerateWindowsUserData(publicKey string) (string, error) {
	return render("windows-user-data", windowsUserDataTemplate, UserData{PublicKey: publicKey})
}

// generateUserData picks the bootstrap format for spec
func generateUserData(spec NodeSpec) (string, error) {
	if spec.Windows {
		return GenerateWindowsUserData(spec.SSHPublicKey)
	}
	return GenerateCloudConfig(spec.Username, spec.SSHPublicKey)
}

func render(name, text string, data UserData) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.String(), nil
}
