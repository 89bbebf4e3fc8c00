package provisioner_test

import (
	"context"
	"errors"
	"time"

	"clusterswarm/internal/cluster"
	"clusterswarm/internal/config"
	"clusterswarm/internal/control"
	"clusterswarm/internal/provisioner"
	"clusterswarm/internal/provisioning"
	"clusterswarm/internal/registry"
	"clusterswarm/internal/ssh"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Provisioner", func() {
	var (
		eks      *fakeAdapter
		rke      *fakeAdapter
		reg      *registry.Registry
		cfg      config.ProvisionerConfig
		adapters map[cluster.Provider]provisioning.Adapter
		ctx      context.Context
		cancel   context.CancelFunc
	)

	newProvisioner := func(opts ...provisioner.Option) *provisioner.Provisioner {
		return provisioner.New(adapters, reg, cfg, opts...)
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		eks = newFakeAdapter(cluster.ProviderEKS)
		rke = newFakeAdapter(cluster.ProviderRKE)
		adapters = map[cluster.Provider]provisioning.Adapter{
			cluster.ProviderEKS: eks,
			cluster.ProviderRKE: rke,
		}
		reg = registry.New(cluster.NewRunID())
		cfg = config.ProvisionerConfig{
			ClusterTimeout:  300 * time.Millisecond,
			PollInterval:    time.Millisecond,
			MaxPollInterval: 4 * time.Millisecond,
			TeardownTimeout: 100 * time.Millisecond,
		}
	})

	AfterEach(func() {
		cancel()
	})

	Context("Successful runs", func() {
		It("should return one outcome per request in submission order", func() {
			eks.on("1.20", behaviour{readyAfter: 2}).on("1.21", behaviour{readyAfter: 0}).on("1.22", behaviour{readyAfter: 5})
			requests := []cluster.Request{
				request(cluster.ProviderEKS, "1.20"),
				request(cluster.ProviderEKS, "1.21"),
				request(cluster.ProviderEKS, "1.22"),
			}

			outcomes := newProvisioner().Run(ctx, requests)

			Expect(outcomes).To(HaveLen(3))
			for i, o := range outcomes {
				Expect(o.Index).To(Equal(i))
				Expect(o.Err).NotTo(HaveOccurred())
				Expect(o.Request.Name).To(Equal(requests[i].Name))
				Expect(o.Record).NotTo(BeNil())
				Expect(o.Record.Status).To(Equal(cluster.StatusReady))
				Expect(o.Record.ExternalID).To(Equal("c-" + requests[i].Name))
			}

			snap := reg.Snapshot()
			Expect(snap.Records).To(HaveLen(3))
			Expect(reg.Snapshot()).To(Equal(snap))
		})

		It("should return no outcomes for no requests", func() {
			Expect(newProvisioner().Run(ctx, nil)).To(BeEmpty())
			Expect(reg.Snapshot().Records).To(BeEmpty())
		})

		It("should not be affected by callers mutating their requests", func() {
			rke.on("v1.21.3-rancher1-1", behaviour{})
			req := request(cluster.ProviderRKE, "v1.21.3-rancher1-1")
			req.NodeRoles = cluster.DefaultTopology()
			requests := []cluster.Request{req}

			outcomes := newProvisioner().Run(ctx, requests)
			requests[0].NodeRoles[0][0] = cluster.RoleWorker

			Expect(outcomes[0].Request.NodeRoles[0][0]).To(Equal(cluster.RoleControlPlane))
			rec, ok := reg.Get(req.Key())
			Expect(ok).To(BeTrue())
			Expect(rec.Request.NodeRoles[0][0]).To(Equal(cluster.RoleControlPlane))
		})

		It("should retry transient poll errors", func() {
			eks.on("1.21", behaviour{pollErrs: 3, readyAfter: 1})

			outcomes := newProvisioner().Run(ctx, []cluster.Request{request(cluster.ProviderEKS, "1.21")})

			Expect(outcomes[0].Err).NotTo(HaveOccurred())
		})

		It("should respect the concurrency limit", func() {
			cfg.Concurrency = 2
			var requests []cluster.Request
			for _, v := range []string{"1.18", "1.19", "1.20", "1.21", "1.22"} {
				eks.on(v, behaviour{createWait: 20 * time.Millisecond})
				requests = append(requests, request(cluster.ProviderEKS, v))
			}

			outcomes := newProvisioner().Run(ctx, requests)

			Expect(outcomes).To(HaveLen(5))
			Expect(eks.maxInFlight).To(BeNumerically("<=", 2))
			Expect(eks.creates).To(Equal(5))
		})

		It("should validate ready clusters with their kubeconfig", func() {
			eks.on("1.21", behaviour{})
			validator := &fakeValidator{}

			outcomes := newProvisioner(provisioner.WithValidator(validator)).Run(ctx, []cluster.Request{request(cluster.ProviderEKS, "1.21")})

			Expect(outcomes[0].Err).NotTo(HaveOccurred())
			Expect(validator.kubeconfigs).To(Equal([]string{"kubeconfig-c-test-auto-eks-1.21"}))
		})
	})

	Context("Failures", func() {
		It("should time out one request without affecting the other", func() {
			eks.on("1.20", behaviour{readyAfter: -1}).on("1.22", behaviour{readyAfter: 1})

			outcomes := newProvisioner().Run(ctx, []cluster.Request{
				request(cluster.ProviderEKS, "1.20"),
				request(cluster.ProviderEKS, "1.22"),
			})

			Expect(outcomes).To(HaveLen(2))
			Expect(cluster.KindOf(outcomes[0].Err)).To(Equal(cluster.KindTimeout))
			Expect(outcomes[0].Record.Status).To(Equal(cluster.StatusFailed))
			Expect(outcomes[0].Record.ErrorKind).To(Equal(cluster.KindTimeout))
			Expect(outcomes[1].Err).NotTo(HaveOccurred())
		})

		It("should classify remote rejections", func() {
			eks.on("1.20", behaviour{createErr: errors.New("quota exceeded")}).on("1.21", behaviour{failOnPoll: true})

			outcomes := newProvisioner().Run(ctx, []cluster.Request{
				request(cluster.ProviderEKS, "1.20"),
				request(cluster.ProviderEKS, "1.21"),
			})

			Expect(cluster.KindOf(outcomes[0].Err)).To(Equal(cluster.KindRemoteRejected))
			Expect(outcomes[0].Record.ExternalID).To(BeEmpty())
			Expect(cluster.KindOf(outcomes[1].Err)).To(Equal(cluster.KindRemoteRejected))
			Expect(outcomes[1].Err.Error()).To(ContainSubstring("nodegroup failed"))
			Expect(outcomes[1].Record.ExternalID).To(Equal("c-test-auto-eks-1.21"))
		})

		It("should reject versions the provider does not understand", func() {
			outcomes := newProvisioner().Run(ctx, []cluster.Request{request(cluster.ProviderEKS, "v1.21.3-rancher1-1")})

			Expect(cluster.KindOf(outcomes[0].Err)).To(Equal(cluster.KindPrecheckFailed))
			Expect(errors.Is(outcomes[0].Err, cluster.ErrInvalidVersion)).To(BeTrue())
			Expect(eks.creates).To(BeZero())
		})

		It("should reject duplicate names and unknown providers", func() {
			eks.on("1.21", behaviour{})
			outcomes := newProvisioner().Run(ctx, []cluster.Request{
				request(cluster.ProviderEKS, "1.21"),
				request(cluster.ProviderEKS, "1.21"),
				request(cluster.ProviderAKS, "1.22.6"),
			})

			Expect(outcomes[0].Err).NotTo(HaveOccurred())
			Expect(cluster.KindOf(outcomes[1].Err)).To(Equal(cluster.KindPrecheckFailed))
			Expect(outcomes[1].Record).To(BeNil())
			Expect(cluster.KindOf(outcomes[2].Err)).To(Equal(cluster.KindPrecheckFailed))
			Expect(eks.creates).To(Equal(1))

			Expect(reg.Snapshot().Records).To(HaveLen(2))
			rec, _ := reg.Get(outcomes[0].Request.Key())
			Expect(rec.Status).To(Equal(cluster.StatusReady))
		})

		It("should fail the request when validation fails", func() {
			eks.on("1.21", behaviour{})
			validator := &fakeValidator{err: errors.New("2 of 3 nodes ready")}

			outcomes := newProvisioner(provisioner.WithValidator(validator)).Run(ctx, []cluster.Request{request(cluster.ProviderEKS, "1.21")})

			Expect(cluster.KindOf(outcomes[0].Err)).To(Equal(cluster.KindRemoteRejected))
			Expect(outcomes[0].Record.Status).To(Equal(cluster.StatusFailed))
		})
	})

	Context("Windows requests", func() {
		It("should prepare only windows requests", func() {
			rke.on("v1.21.3-rancher1-1", behaviour{}).on("v1.20.15-rancher1-2", behaviour{})
			win := request(cluster.ProviderRKE, "v1.21.3-rancher1-1")
			win.Windows = true
			win.NodeRoles = cluster.WindowsTopology()

			outcomes := newProvisioner().Run(ctx, []cluster.Request{win, request(cluster.ProviderRKE, "v1.20.15-rancher1-2")})

			Expect(outcomes[0].Err).NotTo(HaveOccurred())
			Expect(outcomes[1].Err).NotTo(HaveOccurred())
			Expect(rke.prepared).To(Equal([]string{win.Name}))
		})

		It("should abort only the windows request when preparation fails", func() {
			rke.prepareErr = errors.New("image pull failed")
			rke.on("v1.21.3-rancher1-1", behaviour{}).on("v1.20.15-rancher1-2", behaviour{})
			win := request(cluster.ProviderRKE, "v1.21.3-rancher1-1")
			win.Windows = true

			outcomes := newProvisioner().Run(ctx, []cluster.Request{win, request(cluster.ProviderRKE, "v1.20.15-rancher1-2")})

			Expect(cluster.KindOf(outcomes[0].Err)).To(Equal(cluster.KindPrecheckFailed))
			Expect(outcomes[1].Err).NotTo(HaveOccurred())
			Expect(rke.creates).To(Equal(1))
		})

		Context("with custom-host nodes", func() {
			var pool *vmPool

			BeforeEach(func() {
				pool = newVMPool()
				hostsCfg := config.Default().Hosts
				hostsCfg.Type = config.ProviderAWS
				hostsCfg.PrePullImages = nil
				adapters[cluster.ProviderRKE] = provisioning.NewRKE(platformAPI{}, config.Default().RKE, hostsCfg,
					pool, ssh.NewInMemoryKeyProvider(), control.SSHDialer{})
			})

			windows := func(version string) cluster.Request {
				req := request(cluster.ProviderRKE, version)
				req.Windows = true
				req.NodeRoles = cluster.WindowsTopology()
				req.FlannelBackend = cluster.FlannelHostGW
				return req
			}

			It("should delete the nodes when preparation fails", func() {
				pool.checkErr = errors.New("UnauthorizedOperation")

				outcomes := newProvisioner().Run(ctx, []cluster.Request{windows("v1.21.3-rancher1-1")})

				Expect(cluster.KindOf(outcomes[0].Err)).To(Equal(cluster.KindPrecheckFailed))
				created, running := pool.counts()
				Expect(created).To(Equal(6))
				Expect(running).To(BeZero())
			})

			It("should delete the prepared nodes when the platform rejects the cluster", func() {
				outcomes := newProvisioner().Run(ctx, []cluster.Request{windows("v1.21.3-rancher1-1")})

				Expect(cluster.KindOf(outcomes[0].Err)).To(Equal(cluster.KindRemoteRejected))
				created, running := pool.counts()
				Expect(created).To(Equal(6))
				Expect(running).To(BeZero())
			})

			It("should not create nodes for an invalid version", func() {
				outcomes := newProvisioner().Run(ctx, []cluster.Request{windows("1.21")})

				Expect(outcomes[0].Err).To(MatchError(cluster.ErrInvalidVersion))
				Expect(cluster.KindOf(outcomes[0].Err)).To(Equal(cluster.KindPrecheckFailed))
				created, _ := pool.counts()
				Expect(created).To(BeZero())
			})
		})
	})

	Context("Cancellation", func() {
		It("should persist every state of a cluster created while the run is cancelled", func() {
			store := newStrictStore()
			reg = registry.New(cluster.NewRunID(), registry.WithStore(store))
			eks.on("1.21", behaviour{readyAfter: -1, onCreate: cancel})

			outcomes := newProvisioner().Run(ctx, []cluster.Request{request(cluster.ProviderEKS, "1.21")})

			Expect(cluster.KindOf(outcomes[0].Err)).To(Equal(cluster.KindCanceled))
			Expect(store.statuses("c-test-auto-eks-1.21")).To(Equal([]cluster.Status{
				cluster.StatusCreating, cluster.StatusFailed, cluster.StatusDestroyed,
			}))
		})

		It("should destroy in-flight clusters when the run is cancelled", func() {
			cfg.ClusterTimeout = time.Minute
			var requests []cluster.Request
			for _, v := range []string{"1.20", "1.21", "1.22"} {
				eks.on(v, behaviour{readyAfter: -1})
				requests = append(requests, request(cluster.ProviderEKS, v))
			}
			eks.destroyErr["c-test-auto-eks-1.21"] = errors.New("still deleting")

			done := make(chan []cluster.Outcome)
			go func() {
				defer GinkgoRecover()
				done <- newProvisioner().Run(ctx, requests)
			}()

			Eventually(func() int {
				creating := 0
				for _, rec := range reg.Snapshot().Records {
					if rec.Status == cluster.StatusCreating {
						creating++
					}
				}
				return creating
			}, 5*time.Second, 5*time.Millisecond).Should(Equal(3))
			cancel()

			var outcomes []cluster.Outcome
			Eventually(done, 5*time.Second).Should(Receive(&outcomes))

			Expect(outcomes).To(HaveLen(3))
			for _, o := range outcomes {
				Expect(cluster.KindOf(o.Err)).To(Equal(cluster.KindCanceled))
			}
			Expect(len(eks.destroyCalls())).To(BeNumerically("<=", 3))
			Expect(eks.destroyCalls()).To(ConsistOf("c-test-auto-eks-1.20", "c-test-auto-eks-1.21", "c-test-auto-eks-1.22"))

			rec, _ := reg.Get(requests[0].Key())
			Expect(rec.Status).To(Equal(cluster.StatusDestroyed))
			rec, _ = reg.Get(requests[1].Key())
			Expect(rec.Status).To(Equal(cluster.StatusFailed))
		})
	})

	Context("Teardown", func() {
		It("should destroy ready and failed clusters once each", func() {
			eks.on("1.20", behaviour{}).on("1.21", behaviour{failOnPoll: true}).on("1.22", behaviour{createErr: errors.New("rejected")})
			p := newProvisioner()
			p.Run(ctx, []cluster.Request{
				request(cluster.ProviderEKS, "1.20"),
				request(cluster.ProviderEKS, "1.21"),
				request(cluster.ProviderEKS, "1.22"),
			})

			result := p.Teardown(ctx)

			Expect(result.Attempted).To(Equal(2))
			Expect(result.Destroyed).To(Equal(2))
			Expect(result.Failures).To(BeEmpty())
			Expect(eks.destroyCalls()).To(ConsistOf("c-test-auto-eks-1.20", "c-test-auto-eks-1.21"))

			again := p.Teardown(ctx)
			Expect(again.Attempted).To(BeZero())
		})

		It("should not let a stuck teardown block the others", func() {
			eks.on("1.20", behaviour{}).on("1.21", behaviour{})
			eks.destroyHang["c-test-auto-eks-1.20"] = true
			p := newProvisioner()
			p.Run(ctx, []cluster.Request{request(cluster.ProviderEKS, "1.20"), request(cluster.ProviderEKS, "1.21")})

			start := time.Now()
			result := p.Teardown(ctx)

			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
			Expect(result.Destroyed).To(Equal(1))
			Expect(result.Failures).To(HaveLen(1))
			Expect(result.Failures[0].ExternalID).To(Equal("c-test-auto-eks-1.20"))
			Expect(errors.Is(result.Failures[0], context.DeadlineExceeded)).To(BeTrue())
		})
	})
})
